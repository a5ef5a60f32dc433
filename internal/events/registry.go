package events

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sync"

	"eventnet/internal/neterr"
)

var (
	ErrTypeMismatch = errors.New("event type does not match the type bound to this event id")
	ErrNilHandler   = errors.New("handler is nil")
)

// Handle identifies one registration so it can be removed later.
// The zero Handle matches nothing.
type Handle struct {
	eventID uint32
	seq     uint64
}

type Options struct {
	Logger    *slog.Logger
	ErrorSink neterr.Sink
	// StrictPayloadLength rejects payloads longer than the event's encoded
	// size instead of ignoring the trailing bytes
	StrictPayloadLength bool
}

// Registry maps event ids to typed handler lists. Every id is bound to a
// single Go type from its first registration until its last handler is
// removed.
type Registry struct {
	mu     sync.RWMutex
	lists  map[uint32]*handlerList
	seq    uint64
	logger *slog.Logger
	sink   neterr.Sink
	strict bool
}

type handlerList struct {
	typ     reflect.Type
	size    int
	decode  func(b []byte, strict bool) (any, error)
	entries []entry // replaced, never mutated in place, so Trigger can keep a snapshot
}

type entry struct {
	seq  uint64
	call func(v any)
}

func NewRegistry(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		lists:  make(map[uint32]*handlerList),
		logger: logger,
		sink:   opts.ErrorSink,
		strict: opts.StrictPayloadLength,
	}
}

// Register appends handler to the list for eventID. T must be a fixed-layout
// type and must match the type of any handler already registered for eventID.
func Register[T any](r *Registry, eventID uint32, handler func(T)) (Handle, error) {
	if handler == nil {
		return Handle{}, ErrNilHandler
	}
	typ := reflect.TypeOf((*T)(nil)).Elem()
	size := EncodedSize[T]()
	if size < 0 {
		return Handle{}, fmt.Errorf("%w: %s", ErrNotFixedLayout, typ)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list, ok := r.lists[eventID]
	if !ok {
		list = &handlerList{
			typ:  typ,
			size: size,
			decode: func(b []byte, strict bool) (any, error) {
				return decode[T](b, strict)
			},
		}
		r.lists[eventID] = list
	} else if list.typ != typ {
		return Handle{}, fmt.Errorf("%w: event %d is bound to %s, got %s", ErrTypeMismatch, eventID, list.typ, typ)
	}

	r.seq++
	h := Handle{eventID: eventID, seq: r.seq}
	list.entries = append(slices.Clip(list.entries), entry{
		seq:  h.seq,
		call: func(v any) { handler(v.(T)) },
	})
	return h, nil
}

// Unregister removes the handler identified by h. Unknown handles are ignored.
func (r *Registry) Unregister(eventID uint32, h Handle) {
	if h.seq == 0 || h.eventID != eventID {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list, ok := r.lists[eventID]
	if !ok {
		return
	}
	idx := slices.IndexFunc(list.entries, func(e entry) bool { return e.seq == h.seq })
	if idx < 0 {
		return
	}
	if len(list.entries) == 1 {
		// empty lists release the type binding
		delete(r.lists, eventID)
		return
	}
	list.entries = slices.Delete(slices.Clone(list.entries), idx, idx+1)
}

// Count returns the number of handlers registered for eventID
func (r *Registry) Count(eventID uint32) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if list, ok := r.lists[eventID]; ok {
		return len(list.entries)
	}
	return 0
}

// Trigger decodes raw into the type bound to eventID and calls every handler
// in registration order, each with its own copy of the value. An id without
// handlers is a no-op. A decode failure is a protocol error and no handler
// runs. A panicking handler is reported as a dispatch error and the remaining
// handlers still run; all dispatch errors are joined into the result.
func (r *Registry) Trigger(eventID uint32, raw []byte) error {
	r.mu.RLock()
	list, ok := r.lists[eventID]
	var (
		entries  []entry
		decodeFn func([]byte, bool) (any, error)
		size     int
	)
	if ok {
		entries, decodeFn, size = list.entries, list.decode, list.size
	}
	r.mu.RUnlock()

	if !ok {
		return nil
	}

	value, err := decodeFn(raw, r.strict)
	if err != nil {
		return fmt.Errorf("event %d: %w", eventID, err)
	}
	if len(raw) > size {
		r.logger.Debug("payload_longer_than_event",
			"event_id", eventID,
			"size", len(raw),
			"event_size", size,
		)
	}

	var errs []error
	for i, e := range entries {
		if err := r.invoke(eventID, i, e, value); err != nil {
			r.logger.Error("handler_panicked",
				"event_id", eventID,
				"handler_index", i,
				"error", err.Error(),
			)
			r.sink.Report(err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) invoke(eventID uint32, index int, e entry, value any) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = neterr.Dispatch("event %d handler %d panicked: %v", eventID, index, rec)
		}
	}()
	e.call(value)
	return nil
}

// Serialize encodes event for sending under eventID. When eventID already has
// handlers, the event must be of the type they are bound to.
func (r *Registry) Serialize(eventID uint32, event any) ([]byte, error) {
	if err := r.checkType(eventID, reflect.TypeOf(event)); err != nil {
		return nil, err
	}
	return Marshal(event)
}

func (r *Registry) checkType(eventID uint32, typ reflect.Type) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if list, ok := r.lists[eventID]; ok && list.typ != typ {
		return fmt.Errorf("%w: %w: event %d is bound to %s, got %s", neterr.ErrProtocol, ErrTypeMismatch, eventID, list.typ, typ)
	}
	return nil
}

// Deserialize decodes raw into a T using the registry's payload length policy
func Deserialize[T any](r *Registry, raw []byte) (T, error) {
	return decode[T](raw, r.strict)
}
