//go:build !usblc

package usblc

func openDevice(index, pixels int) error { return ErrNotCompiled }

func setIntTime(us uint32) error { return ErrNotCompiled }

func trigger() error { return ErrNotCompiled }

func readFrame(buf []uint16, waitMs uint32) (int, error) { return 0, ErrNotCompiled }

func closeDevice() error { return ErrNotCompiled }
