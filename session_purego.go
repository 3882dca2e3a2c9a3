//go:build linux && !nostarfish

// StarFish media pipeline bindings via libstarfish_capi using purego.
//
// libstarfish_capi is a thin C wrapper around the platform's
// StarfishMediaAPIs C++ class; every function below maps onto one method of
// that class.

package starfish

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

var (
	starfishOnce    sync.Once
	starfishHandle  uintptr
	starfishInitErr error
)

// libstarfish_capi function pointers
var (
	starfishCreate           func() uint64
	starfishDestroy          func(session uint64)
	starfishLoad             func(session uint64, payload string, cb uintptr, ctx uintptr) int32
	starfishFeed             func(session uint64, payload string) string
	starfishSeek             func(session uint64, position string)
	starfishFlush            func(session uint64)
	starfishPlay             func(session uint64)
	starfishPause            func(session uint64)
	starfishUnload           func(session uint64)
	starfishPushEOS          func(session uint64)
	starfishSetHdrInfo       func(session uint64, payload string)
	starfishGetPlaytime      func(session uint64) int64
	starfishNotifyForeground func(session uint64)
)

func loadStarfishLib() error {
	starfishOnce.Do(func() {
		starfishInitErr = dlopenStarfish()
	})
	return starfishInitErr
}

func dlopenStarfish() error {
	var lastErr error
	for _, path := range starfishLibPaths() {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			starfishHandle = handle
			registerStarfishSymbols()
			return nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return fmt.Errorf("failed to load libstarfish_capi: %w", lastErr)
	}
	return errors.New("libstarfish_capi not found in any standard location")
}

func starfishLibPaths() []string {
	const libName = "libstarfish_capi.so"
	var paths []string

	// Environment variable overrides (highest priority)
	if envPath := os.Getenv("STARFISH_CAPI_LIB_PATH"); envPath != "" {
		paths = append(paths, envPath)
	}
	if envPath := os.Getenv("STARFISH_SDK_LIB_PATH"); envPath != "" {
		paths = append(paths, filepath.Join(envPath, libName))
	}

	// Search relative to executable location
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, libName),
			filepath.Join(exeDir, "..", "lib", libName),
		)
	}

	// Search relative to working directory
	if wd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(wd, "build", libName))
	}

	// Let the dynamic linker search its own paths last.
	paths = append(paths, libName)
	return paths
}

func registerStarfishSymbols() {
	purego.RegisterLibFunc(&starfishCreate, starfishHandle, "starfish_session_create")
	purego.RegisterLibFunc(&starfishDestroy, starfishHandle, "starfish_session_destroy")
	purego.RegisterLibFunc(&starfishLoad, starfishHandle, "starfish_session_load")
	purego.RegisterLibFunc(&starfishFeed, starfishHandle, "starfish_session_feed")
	purego.RegisterLibFunc(&starfishSeek, starfishHandle, "starfish_session_seek")
	purego.RegisterLibFunc(&starfishFlush, starfishHandle, "starfish_session_flush")
	purego.RegisterLibFunc(&starfishPlay, starfishHandle, "starfish_session_play")
	purego.RegisterLibFunc(&starfishPause, starfishHandle, "starfish_session_pause")
	purego.RegisterLibFunc(&starfishUnload, starfishHandle, "starfish_session_unload")
	purego.RegisterLibFunc(&starfishPushEOS, starfishHandle, "starfish_session_push_eos")
	purego.RegisterLibFunc(&starfishSetHdrInfo, starfishHandle, "starfish_session_set_hdr_info")
	purego.RegisterLibFunc(&starfishGetPlaytime, starfishHandle, "starfish_session_get_current_playtime")
	purego.RegisterLibFunc(&starfishNotifyForeground, starfishHandle, "starfish_session_notify_foreground")
}

// Callback dispatch. purego callbacks are a finite process-wide resource,
// so a single trampoline serves every session: the C side passes the
// session handle back as the context pointer and the registry resolves it
// to the Go closure registered at Load time.
var (
	starfishCallbackOnce sync.Once
	starfishCallbackPtr  uintptr

	starfishSessionsMu sync.Mutex
	starfishSessions   = make(map[uint64]EventCallback)
)

func starfishCallback() uintptr {
	starfishCallbackOnce.Do(func() {
		starfishCallbackPtr = purego.NewCallback(func(eventType int32, numValue int64, strValue uintptr, ctx uintptr) {
			starfishSessionsMu.Lock()
			cb := starfishSessions[uint64(ctx)]
			starfishSessionsMu.Unlock()
			if cb == nil {
				return
			}
			cb(Event{
				Type: EventType(eventType),
				Num:  numValue,
				Str:  goStringFromPtr(strValue),
			})
		})
	})
	return starfishCallbackPtr
}

// goStringFromPtr copies a NUL-terminated C string.
func goStringFromPtr(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	p := unsafe.Pointer(ptr)
	var length int
	for *(*byte)(unsafe.Pointer(uintptr(p) + uintptr(length))) != 0 {
		length++
		if length > 4096 { // Safety limit
			break
		}
	}
	if length == 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(p), length))
}

// nativeSession is the production MediaSession bound to libstarfish_capi.
type nativeSession struct {
	handle uint64
}

// NewMediaSession opens a handle to the platform media pipeline. Each
// session drives at most one Load/Unload cycle of the engine.
func NewMediaSession() (MediaSession, error) {
	if err := loadStarfishLib(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	handle := starfishCreate()
	if handle == 0 {
		return nil, fmt.Errorf("%w: session create failed", ErrSessionUnavailable)
	}
	return &nativeSession{handle: handle}, nil
}

func (s *nativeSession) Load(payload string, cb EventCallback) bool {
	starfishSessionsMu.Lock()
	starfishSessions[s.handle] = cb
	starfishSessionsMu.Unlock()

	ok := starfishLoad(s.handle, payload, starfishCallback(), uintptr(s.handle)) != 0
	if !ok {
		starfishSessionsMu.Lock()
		delete(starfishSessions, s.handle)
		starfishSessionsMu.Unlock()
	}
	return ok
}

func (s *nativeSession) Feed(payload string) string { return starfishFeed(s.handle, payload) }

func (s *nativeSession) Seek(positionMillis string) { starfishSeek(s.handle, positionMillis) }

func (s *nativeSession) Flush() { starfishFlush(s.handle) }

func (s *nativeSession) Play() { starfishPlay(s.handle) }

func (s *nativeSession) Pause() { starfishPause(s.handle) }

func (s *nativeSession) Unload() {
	starfishUnload(s.handle)

	starfishSessionsMu.Lock()
	delete(starfishSessions, s.handle)
	starfishSessionsMu.Unlock()
}

func (s *nativeSession) PushEOS() { starfishPushEOS(s.handle) }

func (s *nativeSession) SetHdrInfo(payload string) { starfishSetHdrInfo(s.handle, payload) }

func (s *nativeSession) CurrentPlaytime() int64 { return starfishGetPlaytime(s.handle) }

func (s *nativeSession) NotifyForeground() { starfishNotifyForeground(s.handle) }
