package starfish

// EventType identifies a player event delivered by the engine callback.
// Values match the PF_EVENT_T constants from the StarFish SDK headers.
type EventType int32

const (
	EventNone EventType = iota
	EventStrError
	EventIntError
	EventStrBufferFull
	EventStrBufferLow
	EventIntBufferFull
	EventIntBufferLow
	EventStrStateUpdatePreloadCompleted
	EventStrStateUpdateLoadCompleted
	EventStrStateUpdateUnloadCompleted
	EventStrStateUpdateTrickReady
	EventStrStateUpdateSeekDone
	EventStrStateUpdateEndOfStream
	EventIntNeedData
	EventIntEnoughData
	EventIntSeekData
	EventFrameReady
)

func (t EventType) String() string {
	switch t {
	case EventStrError:
		return "StrError"
	case EventIntError:
		return "IntError"
	case EventStrBufferFull:
		return "StrBufferFull"
	case EventStrBufferLow:
		return "StrBufferLow"
	case EventIntBufferFull:
		return "IntBufferFull"
	case EventIntBufferLow:
		return "IntBufferLow"
	case EventStrStateUpdatePreloadCompleted:
		return "PreloadCompleted"
	case EventStrStateUpdateLoadCompleted:
		return "LoadCompleted"
	case EventStrStateUpdateUnloadCompleted:
		return "UnloadCompleted"
	case EventStrStateUpdateTrickReady:
		return "TrickReady"
	case EventStrStateUpdateSeekDone:
		return "SeekDone"
	case EventStrStateUpdateEndOfStream:
		return "EndOfStream"
	case EventIntNeedData:
		return "NeedData"
	case EventIntEnoughData:
		return "EnoughData"
	case EventIntSeekData:
		return "SeekData"
	case EventFrameReady:
		return "FrameReady"
	default:
		return "Unknown"
	}
}

// Event is one player callback delivery. Num carries the numeric argument
// (playtime for FrameReady), Str the optional string argument.
//
// Events arrive on an engine-owned thread, concurrently with calls made on
// the feed's owning goroutine. Handlers must only touch atomic state.
type Event struct {
	Type EventType
	Num  int64
	Str  string
}

// EventCallback receives player events. It replaces the SDK's C function
// pointer plus untyped context pointer pairing; the session keeps the
// closure alive for the lifetime of the load.
type EventCallback func(Event)
