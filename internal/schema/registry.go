// Package schema holds the closed, per-action payload contracts of the event
// protocol. Inbound (client -> engine) and Outbound (engine -> client)
// contracts are kept in two independent tables: the same action usually has
// a different shape in each direction.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/Zereker/social/internal/domain"
)

// Direction tells which side of the protocol a contract belongs to.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "outbound"
	}
	return "inbound"
}

// entry is one immutable (action, direction, validator) registration.
type entry struct {
	action    domain.Action
	direction Direction
	payload   reflect.Type // nil: the direction never carries this action
	reason    string
}

func accept(action domain.Action, sample any) entry {
	return entry{action: action, direction: Inbound, payload: reflect.TypeOf(sample)}
}

func serverOnly(action domain.Action) entry {
	return entry{action: action, direction: Inbound, reason: "action is only sent by the server"}
}

func emit(action domain.Action, sample any) entry {
	return entry{action: action, direction: Outbound, payload: reflect.TypeOf(sample)}
}

var inboundTable = []entry{
	accept(domain.ActionFriends, domain.FriendsRequest{}),
	accept(domain.ActionAddToFriends, domain.EmptyPayload{}),
	accept(domain.ActionAcceptFriend, domain.AcceptFriendRequest{}),
	accept(domain.ActionUnsubscribe, domain.EmptyPayload{}),
	accept(domain.ActionBlockFriend, domain.BlockFriendRequest{}),
	accept(domain.ActionGetAllUsers, domain.EmptyPayload{}),
	serverOnly(domain.ActionGetNewUser),
	serverOnly(domain.ActionUserDisconnect),
	accept(domain.ActionLogOut, domain.EmptyPayload{}),
	serverOnly(domain.ActionSocketChannelError),
}

var outboundTable = []entry{
	emit(domain.ActionFriends, domain.FriendsEvent{}),
	emit(domain.ActionAddToFriends, domain.UserEvent{}),
	emit(domain.ActionAcceptFriend, domain.UserEvent{}),
	emit(domain.ActionUnsubscribe, domain.UserIDEvent{}),
	emit(domain.ActionBlockFriend, domain.UserEvent{}),
	emit(domain.ActionGetAllUsers, domain.UsersEvent{}),
	emit(domain.ActionGetNewUser, domain.UserEvent{}),
	emit(domain.ActionUserDisconnect, domain.UserIDEvent{}),
	emit(domain.ActionLogOut, domain.EmptyPayload{}),
	emit(domain.ActionSocketChannelError, domain.ErrorEvent{}),
}

// Registry looks up and applies payload contracts by action and direction.
// It is built once at process start and is safe for concurrent use.
type Registry struct {
	inbound  map[domain.Action]entry
	outbound map[domain.Action]entry
	validate *validator.Validate
}

// NewRegistry creates a Registry holding the full protocol vocabulary.
func NewRegistry() *Registry {
	r := &Registry{
		inbound:  make(map[domain.Action]entry, len(inboundTable)),
		outbound: make(map[domain.Action]entry, len(outboundTable)),
		validate: newValidator(),
	}
	for _, e := range inboundTable {
		r.inbound[e.action] = e
	}
	for _, e := range outboundTable {
		r.outbound[e.action] = e
	}
	return r
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	_ = v.RegisterValidation("nonblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// Accepts reports whether clients may send action.
func (r *Registry) Accepts(action domain.Action) bool {
	e, ok := r.inbound[action]
	return ok && e.payload != nil
}

// Actions returns the actions registered for dir, sorted.
func (r *Registry) Actions(dir Direction) []domain.Action {
	table := r.inbound
	if dir == Outbound {
		table = r.outbound
	}
	out := make([]domain.Action, 0, len(table))
	for action := range table {
		out = append(out, action)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DecodeInbound validates raw against the inbound contract of action and
// returns a pointer to the typed payload. Unknown fields, wrong types and
// missing required fields all produce a *domain.ValidationError.
func (r *Registry) DecodeInbound(action domain.Action, raw json.RawMessage) (any, error) {
	e, ok := r.inbound[action]
	if !ok {
		return nil, domain.NewValidationError(string(action), "unknown action")
	}
	if e.payload == nil {
		return nil, domain.NewValidationError(string(action), e.reason)
	}

	doc := map[string]any{}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, domain.NewValidationError(string(action), "payload must be a JSON object")
		}
	}

	out := reflect.New(e.payload).Interface()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		TagName:     "json",
		ErrorUnused: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create payload decoder")
	}
	if err := decoder.Decode(doc); err != nil {
		return nil, domain.NewValidationError(string(action), "%s", flatten(err))
	}

	if err := r.validate.Struct(out); err != nil {
		return nil, domain.NewValidationError(string(action), "%s", describe(err))
	}

	return out, nil
}

// ValidateOutbound checks ev against the outbound contract of its action.
// Any failure is a *domain.InternalSchemaError.
func (r *Registry) ValidateOutbound(ev domain.OutboundEvent) error {
	e, ok := r.outbound[ev.Action]
	if !ok {
		return &domain.InternalSchemaError{Action: ev.Action, Err: errors.New("no outbound contract registered")}
	}

	v := reflect.ValueOf(ev.Payload)
	if !v.IsValid() {
		return &domain.InternalSchemaError{Action: ev.Action, Err: errors.New("payload is missing")}
	}
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return &domain.InternalSchemaError{Action: ev.Action, Err: errors.New("payload is nil")}
		}
		v = v.Elem()
	}
	if v.Type() != e.payload {
		return &domain.InternalSchemaError{
			Action: ev.Action,
			Err:    errors.Errorf("payload type %s, want %s", v.Type(), e.payload),
		}
	}

	if err := r.validate.Struct(v.Interface()); err != nil {
		return &domain.InternalSchemaError{Action: ev.Action, Err: errors.New(describe(err))}
	}
	return nil
}

// frame is the JSON shape written to clients.
type frame struct {
	Action  domain.Action `json:"action"`
	Payload any           `json:"payload"`
}

// EncodeOutbound validates ev and renders it as a wire frame.
func (r *Registry) EncodeOutbound(ev domain.OutboundEvent) ([]byte, error) {
	if err := r.ValidateOutbound(ev); err != nil {
		return nil, err
	}

	data, err := json.Marshal(frame{Action: ev.Action, Payload: ev.Payload})
	if err != nil {
		return nil, &domain.InternalSchemaError{Action: ev.Action, Err: err}
	}
	return data, nil
}

// describe turns validator errors into "field: rule" pairs.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", field, fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

// flatten joins the lines of a mapstructure error.
func flatten(err error) string {
	var merr *mapstructure.Error
	if errors.As(err, &merr) {
		return strings.Join(merr.Errors, "; ")
	}
	return err.Error()
}
