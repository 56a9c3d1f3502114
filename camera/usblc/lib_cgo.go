//go:build usblc

package usblc

/*
#cgo LDFLAGS: -lusblcjtn
#include <stdint.h>

int32_t ls_currentdeviceindex(void);
int32_t ls_opendevicebyindex(int32_t index);
int32_t ls_closedevice(void);
int32_t ls_setpacketlength(int32_t packetlength);
int32_t ls_setmode(uint8_t ucmode, uint32_t timeout);
int32_t ls_setstate(uint8_t ucstate, uint32_t timeout);
int32_t ls_setadcpga1(uint16_t pga, uint32_t timeout);
int32_t ls_setinttime(uint32_t inttime, uint32_t timeout);
void ls_waitforpipe(uint32_t timeout);
int32_t ls_getpipe(void* buf, int32_t n);
char* ls_geterrorstring(int32_t ierr);
*/
import "C"

import "unsafe"

func check(code C.int32_t) error {
	if code == 0 {
		return nil
	}
	return Error{Code: int(code), Msg: C.GoString(C.ls_geterrorstring(code))}
}

func openDevice(index, pixels int) error {
	if C.ls_currentdeviceindex() > -1 {
		C.ls_closedevice()
	}
	if err := check(C.ls_setpacketlength(C.int32_t(2 * pixels))); err != nil {
		return err
	}
	if err := check(C.ls_opendevicebyindex(C.int32_t(index))); err != nil {
		return err
	}
	if err := check(C.ls_setmode(ModeOneShot, TimeoutDelay)); err != nil {
		return err
	}
	if err := check(C.ls_setstate(0, TimeoutDelay)); err != nil {
		return err
	}
	return check(C.ls_setadcpga1(0, TimeoutDelay))
}

func setIntTime(us uint32) error {
	return check(C.ls_setinttime(C.uint32_t(us), TimeoutDelay))
}

func trigger() error {
	return check(C.ls_setstate(1, TimeoutDelay))
}

func readFrame(buf []uint16, waitMs uint32) (int, error) {
	C.ls_waitforpipe(C.uint32_t(waitMs))
	n := C.ls_getpipe(unsafe.Pointer(&buf[0]), C.int32_t(2*len(buf)))
	if n < 0 {
		return 0, check(n)
	}
	return int(n), nil
}

func closeDevice() error {
	return check(C.ls_closedevice())
}
