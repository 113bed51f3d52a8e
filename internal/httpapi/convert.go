package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/service"
	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/types"
)

var errNoEvents = errors.New("body holds no input events")

// readInputsJSON accepts {"events": [...]}, a bare array of events or a
// single event object.
func readInputsJSON(r *http.Request) ([]service.RawInputEvent, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errNoEvents
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	if body[0] == '[' {
		var list []service.RawInputEvent
		if err := dec.Decode(&list); err != nil {
			return nil, fmt.Errorf("invalid JSON body: %w", err)
		}
		return list, nil
	}

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	return eventsFromMap(obj)
}

// readInputsProto decodes a google.protobuf.Struct of the same shape as the
// JSON envelope.
func readInputsProto(r *http.Request) ([]service.RawInputEvent, error) {
	var msg structpb.Struct
	if err := readProto(r, &msg); err != nil {
		return nil, fmt.Errorf("invalid protobuf body: %w", err)
	}
	return eventsFromMap(msg.AsMap())
}

func eventsFromMap(obj map[string]any) ([]service.RawInputEvent, error) {
	raw, ok := obj["events"]
	if !ok {
		// A single event object.
		if len(obj) == 0 {
			return nil, errNoEvents
		}
		return []service.RawInputEvent{obj}, nil
	}

	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("events must be a list, got %T", raw)
	}
	out := make([]service.RawInputEvent, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			// Kept so the reconciler counts it as dropped.
			m = map[string]any{}
		}
		out = append(out, m)
	}
	return out, nil
}

func inputResponseToProto(resp types.InputBatchResponse) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"ok":          resp.OK,
		"accepted":    resp.Accepted,
		"dropped":     resp.Dropped,
		"server_time": resp.ServerTime,
	})
}
