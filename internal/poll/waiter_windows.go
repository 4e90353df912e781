//go:build windows
// +build windows

// internal/poll/waiter_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Event-object variant. The socket is associated with a manual-reset
// event through WSAEventSelect; the worker waits on the event and then
// enumerates the recorded network events together with their per-event
// error codes. The owner cancels a wait by setting the same event.
// WSAEventSelect entry points missing from x/sys/windows are resolved
// from ws2_32.dll directly.

package poll

import (
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/momentics/asock/api"
)

// Winsock network event bits and the matching error-code slots of
// WSANETWORKEVENTS.iErrorCode.
const (
	fdRead    = 0x01
	fdWrite   = 0x02
	fdAccept  = 0x08
	fdConnect = 0x10
	fdClose   = 0x20

	fdReadBit    = 0
	fdWriteBit   = 1
	fdAcceptBit  = 3
	fdConnectBit = 4
	fdCloseBit   = 5
	fdMaxEvents  = 10
)

type wsaNetworkEvents struct {
	events    int32
	errorCode [fdMaxEvents]int32
}

var (
	modws2_32               = windows.NewLazySystemDLL("ws2_32.dll")
	procWSAEventSelect      = modws2_32.NewProc("WSAEventSelect")
	procWSAEnumNetworkEvnts = modws2_32.NewProc("WSAEnumNetworkEvents")
)

func wsaEventSelect(s windows.Handle, event windows.Handle, networkEvents int32) error {
	r, _, e := procWSAEventSelect.Call(uintptr(s), uintptr(event), uintptr(networkEvents))
	if int32(r) != 0 {
		return e
	}
	return nil
}

func wsaEnumNetworkEvents(s windows.Handle, event windows.Handle, ne *wsaNetworkEvents) error {
	r, _, e := procWSAEnumNetworkEvnts.Call(uintptr(s), uintptr(event), uintptr(unsafe.Pointer(ne)))
	if int32(r) != 0 {
		return e
	}
	return nil
}

// Waiter is the per-worker wakeup primitive and readiness wait.
type Waiter struct {
	event windows.Handle
}

// New creates the manual-reset event the socket is associated with.
func New() (*Waiter, error) {
	ev, err := windows.CreateEvent(nil, 1, 0, nil)
	if err != nil {
		return nil, err
	}
	return &Waiter{event: ev}, nil
}

// Wakeup interrupts a pending Wait. Setting an already-set event is a
// no-op, so wakeups coalesce.
func (w *Waiter) Wakeup() {
	windows.SetEvent(w.event)
}

// Close releases the event object.
func (w *Waiter) Close() {
	if w.event != 0 {
		windows.CloseHandle(w.event)
		w.event = 0
	}
}

// Wait arms the event selection derived from waiting (always including
// the close notification), blocks on the event, and enumerates the
// triggered network events. A zero Triggered mask means the wait was
// interrupted by a wakeup. The caller must not hold its mutex.
func (w *Waiter) Wait(fd windows.Handle, waiting Mask) (Result, error) {
	var res Result

	arm := int32(fdClose)
	if waiting&WaitConnect != 0 {
		arm |= fdConnect
	}
	if waiting&WaitRead != 0 {
		arm |= fdRead
	}
	if waiting&WaitWrite != 0 {
		arm |= fdWrite
	}
	if waiting&WaitAccept != 0 {
		arm |= fdAccept
	}
	if err := wsaEventSelect(fd, w.event, arm); err != nil {
		return res, err
	}

	if _, err := windows.WaitForSingleObject(w.event, windows.INFINITE); err != nil {
		return res, err
	}

	var ne wsaNetworkEvents
	if err := wsaEnumNetworkEvents(fd, w.event, &ne); err != nil {
		return res, err
	}
	windows.ResetEvent(w.event)

	if waiting&WaitConnect != 0 && ne.events&fdConnect != 0 {
		res.Triggered |= WaitConnect
		res.Errors[IdxConnect] = api.FromPlatformCode(int(ne.errorCode[fdConnectBit]))
	}
	if waiting&WaitRead != 0 && ne.events&fdRead != 0 {
		res.Triggered |= WaitRead
		res.Errors[IdxRead] = api.FromPlatformCode(int(ne.errorCode[fdReadBit]))
	}
	if waiting&WaitWrite != 0 && ne.events&fdWrite != 0 {
		res.Triggered |= WaitWrite
		res.Errors[IdxWrite] = api.FromPlatformCode(int(ne.errorCode[fdWriteBit]))
	}
	if waiting&WaitAccept != 0 && ne.events&fdAccept != 0 {
		res.Triggered |= WaitAccept
		res.Errors[IdxAccept] = api.FromPlatformCode(int(ne.errorCode[fdAcceptBit]))
	}
	if waiting&WaitClose != 0 && ne.events&fdClose != 0 {
		res.Triggered |= WaitClose
		res.Errors[IdxClose] = api.FromPlatformCode(int(ne.errorCode[fdCloseBit]))
	}
	return res, nil
}
