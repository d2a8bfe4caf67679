package websocket

import (
	"fmt"
	"reflect"
)

type ackInvoker func(err error, payload map[string]any)

// extractAck splits a trailing acknowledgement callback off the event args.
func extractAck(datas []any) (ackInvoker, []any) {
	if len(datas) == 0 {
		return nil, datas
	}
	if ack := wrapAck(datas[len(datas)-1]); ack != nil {
		return ack, datas[:len(datas)-1]
	}
	return nil, datas
}

// wrapAck adapts whatever callback signature the socket library hands us.
// One-argument callbacks get the error or the payload, two-argument ones get
// both.
func wrapAck(candidate any) ackInvoker {
	if candidate == nil {
		return nil
	}
	// socket.io's own callback sends its slice as the ack arguments.
	if native, ok := candidate.(func([]any, error)); ok {
		return func(err error, payload map[string]any) {
			native([]any{payload}, nil)
		}
	}
	fn := reflect.ValueOf(candidate)
	if fn.Kind() != reflect.Func {
		return nil
	}

	typ := fn.Type()
	return func(err error, payload map[string]any) {
		values := []any{err, payload}
		if typ.NumIn() == 1 && err == nil {
			values = []any{payload}
		}

		args := make([]reflect.Value, typ.NumIn())
		for i := range args {
			var v any
			if i < len(values) {
				v = values[i]
			}
			args[i] = coerceValue(v, typ.In(i))
		}
		fn.Call(args)
	}
}

func coerceValue(value any, target reflect.Type) reflect.Value {
	if value == nil {
		return reflect.Zero(target)
	}

	rv := reflect.ValueOf(value)
	switch {
	case rv.Type().AssignableTo(target):
		return rv
	case rv.Type().ConvertibleTo(target):
		return rv.Convert(target)
	case target.Kind() == reflect.Interface && rv.Type().Implements(target):
		return rv
	case target.Kind() == reflect.String:
		return reflect.ValueOf(fmt.Sprint(value)).Convert(target)
	}
	return reflect.Zero(target)
}

func ackPayload(groupID string, err error) map[string]any {
	payload := map[string]any{"status": "ok"}
	if groupID != "" {
		payload["group_id"] = groupID
	}
	if err != nil {
		payload["status"] = "error"
		payload["error"] = err.Error()
	}
	return payload
}

// respond answers the client's acknowledgement, if it asked for one.
func respond(ack ackInvoker, groupID string, err error) {
	if ack != nil {
		ack(err, ackPayload(groupID, err))
	}
}
