package wire

// StateVariant tags which of the four StreamState shapes a StatePayload
// or TransitionPayload carries.
type StateVariant byte

const (
	VariantString StateVariant = iota + 1
	VariantSet
	VariantList
	VariantDictMap
)

// ColumnVariant tags a DictMap column's typed value.
type ColumnVariant byte

const (
	ColumnString ColumnVariant = iota
	ColumnInt
	ColumnBool
)

// Column is one typed cell of a DictMap tuple, CBOR-encoded directly —
// the wire package's own mirror of stream.ColumnValue, kept independent
// so the dialect's payload shape can evolve without coupling to the
// in-process state representation.
type Column struct {
	Variant ColumnVariant `cbor:"v"`
	Str     string        `cbor:"s,omitempty"`
	Int     int64         `cbor:"i,omitempty"`
	Bool    bool          `cbor:"b,omitempty"`
}

// StatePayload is the CBOR body of a StreamStateUpdate (full snapshot).
type StatePayload struct {
	Variant StateVariant `cbor:"variant"`

	StringValue string `cbor:"str,omitempty"`

	SetVersion  uint64   `cbor:"set_ver,omitempty"`
	SetElements []string `cbor:"set_elems,omitempty"`
	SetPartial  bool     `cbor:"set_partial,omitempty"`

	ListItems    []string `cbor:"list_items,omitempty"`
	ListCapacity int      `cbor:"list_cap,omitempty"`
	ListEvict    byte     `cbor:"list_evict,omitempty"`

	DictColumns []string          `cbor:"dict_cols,omitempty"`
	DictValues  map[string]Column `cbor:"dict_vals,omitempty"`
}

// TransitionKind tags which delta shape a TransitionPayload carries.
type TransitionKind byte

const (
	TransitionStringSet TransitionKind = iota + 1
	TransitionSetSnapshot
	TransitionSetDelta
	TransitionListAddHead
	TransitionListAddTail
	TransitionListRemove
	TransitionListSnapshot
	TransitionDictReplace
)

// TransitionPayload is the CBOR body of a StreamStateTransitionUpdate.
type TransitionPayload struct {
	TKind TransitionKind `cbor:"tkind"`

	StringValue string `cbor:"str,omitempty"`

	SetVersion  uint64   `cbor:"set_ver,omitempty"`
	SetElements []string `cbor:"set_elems,omitempty"`
	SetAdded    []string `cbor:"set_added,omitempty"`
	SetRemoved  []string `cbor:"set_removed,omitempty"`

	ListItem  string   `cbor:"list_item,omitempty"`
	ListItems []string `cbor:"list_items,omitempty"`

	DictValues map[string]Column `cbor:"dict_vals,omitempty"`
}

// SubjectPayload is the (service, topic, tags) triple as carried on the
// wire before an Alias has been registered for it.
type SubjectPayload struct {
	Service string            `cbor:"service"`
	Topic   string            `cbor:"topic"`
	Tags    map[string]string `cbor:"tags,omitempty"`
}

// AliasMsg registers alias as shorthand for subject. C→S.
type AliasMsg struct {
	Alias   Alias
	Subject SubjectPayload
}

func (AliasMsg) Kind() Kind           { return KindAlias }
func (m AliasMsg) aliasOrZero() Alias { return m.Alias }

// OpenSubscriptionMsg opens a subscription on a previously registered
// alias. C→S.
type OpenSubscriptionMsg struct {
	Alias                 Alias
	PriorityKey           *string
	AggregationIntervalMs int64
}

func (OpenSubscriptionMsg) Kind() Kind           { return KindOpenSubscription }
func (m OpenSubscriptionMsg) aliasOrZero() Alias { return m.Alias }

// CloseSubscriptionMsg closes a subscription. C→S.
type CloseSubscriptionMsg struct{ Alias Alias }

func (CloseSubscriptionMsg) Kind() Kind           { return KindCloseSubscription }
func (m CloseSubscriptionMsg) aliasOrZero() Alias { return m.Alias }

// ResetSubscriptionMsg requests a full StreamStateUpdate snapshot. C→S
// and also used internally, S→producer.
type ResetSubscriptionMsg struct{ Alias Alias }

func (ResetSubscriptionMsg) Kind() Kind           { return KindResetSubscription }
func (m ResetSubscriptionMsg) aliasOrZero() Alias { return m.Alias }

// SignalMsg is a fire-and-forget RPC toward the producer, with an
// optional correlation ID for an ack. C→S.
type SignalMsg struct {
	Subject        SubjectPayload
	Payload        []byte
	ExpireAtMillis int64
	OrderingGroup  *string
	CorrelationID  *string
}

func (SignalMsg) Kind() Kind         { return KindSignal }
func (SignalMsg) aliasOrZero() Alias { return 0 }

// PingMsg is a liveness probe carrying an opaque id that Pong must echo.
type PingMsg struct{ ID uint64 }

func (PingMsg) Kind() Kind         { return KindPing }
func (PingMsg) aliasOrZero() Alias { return 0 }

// PongMsg answers a PingMsg, echoing its ID.
type PongMsg struct{ ID uint64 }

func (PongMsg) Kind() Kind         { return KindPong }
func (PongMsg) aliasOrZero() Alias { return 0 }

// StreamStateUpdateMsg carries a full StreamState snapshot. S→C.
type StreamStateUpdateMsg struct {
	Alias Alias
	State StatePayload
}

func (StreamStateUpdateMsg) Kind() Kind           { return KindStreamStateUpdate }
func (m StreamStateUpdateMsg) aliasOrZero() Alias { return m.Alias }

// StreamStateTransitionUpdateMsg carries a single delta. S→C.
type StreamStateTransitionUpdateMsg struct {
	Alias      Alias
	Transition TransitionPayload
}

func (StreamStateTransitionUpdateMsg) Kind() Kind { return KindStreamStateTransitionUpdate }
func (m StreamStateTransitionUpdateMsg) aliasOrZero() Alias {
	return m.Alias
}

// SubscriptionClosedMsg notifies the consumer that the producer closed
// the stream. S→C.
type SubscriptionClosedMsg struct{ Alias Alias }

func (SubscriptionClosedMsg) Kind() Kind           { return KindSubscriptionClosed }
func (m SubscriptionClosedMsg) aliasOrZero() Alias { return m.Alias }

// ServiceNotAvailableMsg reports a routing failure for a service. S→C.
type ServiceNotAvailableMsg struct{ ServiceKey string }

func (ServiceNotAvailableMsg) Kind() Kind         { return KindServiceNotAvailable }
func (ServiceNotAvailableMsg) aliasOrZero() Alias { return 0 }

// InvalidRequestMsg reports that a request was rejected. S→C.
type InvalidRequestMsg struct{ Alias Alias }

func (InvalidRequestMsg) Kind() Kind           { return KindInvalidRequest }
func (m InvalidRequestMsg) aliasOrZero() Alias { return m.Alias }

// SignalAckOkMsg acknowledges a Signal succeeded. S→C.
type SignalAckOkMsg struct {
	CorrelationID string
	Payload       []byte
}

func (SignalAckOkMsg) Kind() Kind         { return KindSignalAckOk }
func (SignalAckOkMsg) aliasOrZero() Alias { return 0 }

// SignalAckFailedMsg acknowledges a Signal failed, e.g. because it
// expired before it could be forwarded. S→C.
type SignalAckFailedMsg struct {
	CorrelationID string
	Payload       []byte
}

func (SignalAckFailedMsg) Kind() Kind         { return KindSignalAckFailed }
func (SignalAckFailedMsg) aliasOrZero() Alias { return 0 }
