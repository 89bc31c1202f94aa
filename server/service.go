package server

import (
	"context"
	"fmt"
	"mq-rpc/message"
	"sort"
	"strings"
)

type actionFunc func(ctx context.Context, req *message.Request) (any, error)

// Service is the action table of one capability. Actions are registered with
// Handle; Handler dispatches on req.Action.
type Service struct {
	capability message.Capability
	actions    map[message.Action]actionFunc
}

// NewService 创建一个空的 action 表
func NewService(capability message.Capability) *Service {
	return &Service{
		capability: capability,
		actions:    make(map[message.Action]actionFunc),
	}
}

// Handle registers fn for action. The payload is decoded into a fresh *P and
// validated before fn runs. Registering an action of another capability panics.
func Handle[P any](s *Service, action message.Action, fn func(ctx context.Context, payload *P) (any, error)) {
	if err := action.CheckCapability(s.capability); err != nil {
		panic(fmt.Sprintf("server: %v", err))
	}
	s.actions[action] = func(ctx context.Context, req *message.Request) (any, error) {
		payload := new(P)
		if err := req.DecodeAndValidate(payload); err != nil {
			return nil, err
		}
		return fn(ctx, payload)
	}
}

// Actions lists the registered actions, sorted.
func (s *Service) Actions() []message.Action {
	actions := make([]message.Action, 0, len(s.actions))
	for a := range s.actions {
		actions = append(actions, a)
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })
	return actions
}

// Handler returns the dispatching handler. Unknown actions fail with
// "unknown <capability> action '<name>'".
func (s *Service) Handler() Handler {
	return func(ctx context.Context, req *message.Request) (any, error) {
		if err := req.Action.CheckCapability(s.capability); err != nil {
			return nil, err
		}
		fn, ok := s.actions[req.Action]
		if !ok {
			return nil, fmt.Errorf("unknown %s action '%s'", strings.ToUpper(string(s.capability)), req.Action)
		}
		return fn(ctx, req)
	}
}
