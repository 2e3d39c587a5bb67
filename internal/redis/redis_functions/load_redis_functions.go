package redis_functions

import (
	"context"
	"embed"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

//go:embed *.lua
var fs embed.FS

var registerRe = regexp.MustCompile(`redis\.register_function\(\s*'([A-Za-z0-9_]+)'`)

// LoadAll loads or replaces every embedded Lua library, then checks that
// Redis reports each function the library registers. The registry's FCALLs
// fail with "Function not found" until this has run.
func LoadAll(ctx context.Context, rdb *redis.Client) error {
	files, err := fs.ReadDir(".")
	if err != nil {
		return fmt.Errorf("read embed dir: %w", err)
	}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".lua") {
			continue
		}

		code, err := fs.ReadFile(f.Name())
		if err != nil {
			return err
		}
		lib, err := rdb.FunctionLoadReplace(ctx, string(code)).Result()
		if err != nil {
			return fmt.Errorf("load lua %s: %w", f.Name(), err)
		}
		if err := verify(ctx, rdb, lib, declaredFunctions(string(code))); err != nil {
			return fmt.Errorf("load lua %s: %w", f.Name(), err)
		}
		zap.L().Info("lua library loaded", zap.String("file", f.Name()), zap.String("library", lib))
	}
	return nil
}

// declaredFunctions lists the names passed to redis.register_function.
func declaredFunctions(code string) []string {
	var names []string
	for _, m := range registerRe.FindAllStringSubmatch(code, -1) {
		names = append(names, m[1])
	}
	return names
}

func verify(ctx context.Context, rdb *redis.Client, lib string, want []string) error {
	libs, err := rdb.FunctionList(ctx, redis.FunctionListQuery{LibraryNamePattern: lib}).Result()
	if err != nil {
		return fmt.Errorf("list library %s: %w", lib, err)
	}

	var have []string
	for _, l := range libs {
		if l.Name != lib {
			continue
		}
		for _, fn := range l.Functions {
			have = append(have, fn.Name)
		}
	}

	var missing []string
	for _, name := range want {
		if !slices.Contains(have, name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("library %s missing functions %v", lib, missing)
	}
	return nil
}
