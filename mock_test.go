package starfish

import (
	"strings"
	"sync"
)

// mockSession is a scripted MediaSession for tests. Feed pops statuses from
// the script, falling back to "Ok" (or "BufferFull" while alwaysFull is
// set). Commands are recorded in order.
type mockSession struct {
	mu sync.Mutex

	loadRefused bool
	loadPayload string
	cb          EventCallback

	feedScript   []string
	alwaysFull   bool
	feedPayloads []string

	commands []string

	playtime int64
}

func newMockSession() *mockSession {
	return &mockSession{}
}

func (m *mockSession) record(cmd string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, cmd)
}

func (m *mockSession) Load(payload string, cb EventCallback) bool {
	m.mu.Lock()
	m.loadPayload = payload
	m.cb = cb
	refused := m.loadRefused
	m.mu.Unlock()
	m.record("load")
	return !refused
}

func (m *mockSession) Feed(payload string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedPayloads = append(m.feedPayloads, payload)
	if m.alwaysFull {
		return "BufferFull"
	}
	if len(m.feedScript) > 0 {
		status := m.feedScript[0]
		m.feedScript = m.feedScript[1:]
		return status
	}
	return "Ok"
}

func (m *mockSession) Seek(positionMillis string) { m.record("seek:" + positionMillis) }
func (m *mockSession) Flush()                     { m.record("flush") }
func (m *mockSession) Play()                      { m.record("play") }
func (m *mockSession) Pause()                     { m.record("pause") }
func (m *mockSession) Unload()                    { m.record("unload") }
func (m *mockSession) PushEOS()                   { m.record("eos") }
func (m *mockSession) SetHdrInfo(payload string)  { m.record("hdr:" + payload) }
func (m *mockSession) NotifyForeground()          { m.record("foreground") }

func (m *mockSession) CurrentPlaytime() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playtime
}

func (m *mockSession) setPlaytime(pt int64) {
	m.mu.Lock()
	m.playtime = pt
	m.mu.Unlock()
}

func (m *mockSession) setAlwaysFull(full bool) {
	m.mu.Lock()
	m.alwaysFull = full
	m.mu.Unlock()
}

// emit delivers a player event the way the engine thread would.
func (m *mockSession) emit(ev Event) {
	m.mu.Lock()
	cb := m.cb
	m.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

func (m *mockSession) completeLoad() {
	m.emit(Event{Type: EventStrStateUpdateLoadCompleted})
}

func (m *mockSession) frameReady(playtime int64) {
	m.emit(Event{Type: EventFrameReady, Num: playtime})
}

func (m *mockSession) commandCount(cmd string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.commands {
		if c == cmd || strings.HasPrefix(c, cmd+":") {
			n++
		}
	}
	return n
}

func (m *mockSession) lastCommand(cmd string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.commands) - 1; i >= 0; i-- {
		if m.commands[i] == cmd || strings.HasPrefix(m.commands[i], cmd+":") {
			return m.commands[i]
		}
	}
	return ""
}

func (m *mockSession) feedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.feedPayloads)
}

func (m *mockSession) feedPayload(i int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.feedPayloads) {
		return ""
	}
	return m.feedPayloads[i]
}

// testDescriptor returns a plain H.264 descriptor without extradata, so no
// bitstream converter is installed by default.
func testDescriptor() StreamDescriptor {
	return StreamDescriptor{
		Codec:    VideoCodecH264,
		Width:    1920,
		Height:   1080,
		FPSRate:  30000,
		FPSScale: 1001,
	}
}

// gateConverter is a scripted keyframe gate: Convert passes data through
// and arms the gate once a buffer whose first byte is 'K' is seen.
type gateConverter struct {
	canStart bool
	resets   int
}

func (g *gateConverter) Convert(au []byte) ([]byte, error) {
	if len(au) > 0 && au[0] == 'K' {
		g.canStart = true
	}
	return au, nil
}

func (g *gateConverter) CanStartDecode() bool { return g.canStart }

func (g *gateConverter) Reset() {
	g.canStart = false
	g.resets++
}
