package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var ErrMalformedRequest = errors.New("malformed request")

var validate = validator.New()

// Decode parses one client frame. Any problem with the payload (invalid JSON,
// missing or unknown Action, missing or wrong-typed field) is reported as
// ErrMalformedRequest.
func Decode(raw []byte) (InboundAction, error) {
	var f inboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if f.Action == nil {
		return nil, fmt.Errorf("%w: missing Action", ErrMalformedRequest)
	}

	switch ActionKind(*f.Action) {
	case ActionSend:
		body := sendBody{Text: f.Text}
		if err := validate.Struct(body); err != nil {
			return nil, fmt.Errorf("%w: send: %v", ErrMalformedRequest, err)
		}
		return SendMessage{Text: *body.Text}, nil

	case ActionRename:
		body := renameBody{UserName: f.UserName}
		if err := validate.Struct(body); err != nil {
			return nil, fmt.Errorf("%w: rename: %v", ErrMalformedRequest, err)
		}
		return RenameUser{UserName: *body.UserName}, nil

	default:
		return nil, fmt.Errorf("%w: unknown Action %q", ErrMalformedRequest, *f.Action)
	}
}

// Encode serializes a notification. It never fails and is deterministic: the
// same notification always produces the same bytes.
func Encode(n Notification) []byte {
	var v any
	switch n := n.(type) {
	case UserMessage:
		v = userMessageFrame{Action: NotifyMessage, From: n.From, Text: n.Text}
	case UserNameChanged:
		v = userNameFrame{Action: NotifyUserName, UserName: n.UserName}
	default:
		// unreachable: Notification is sealed
		panic(fmt.Sprintf("protocol: unknown notification %T", n))
	}
	// structs of strings always marshal
	b, _ := json.Marshal(v)
	return b
}
