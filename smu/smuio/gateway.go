package smuio

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// DefaultDriverDir is where the kernel driver mounts its interface.
const DefaultDriverDir = "/sys/kernel/ryzen_smu_drv"

// DriverGateway implements Gateway over the kernel driver's sysfs nodes.
// A register read is a two-step exchange on the smn node (write the address,
// read back the value), so a mutex serializes all register access.
type DriverGateway struct {
	dir     string
	smnFile *os.File
	pmFile  *os.File

	mu sync.Mutex
}

// OpenDriver opens the driver interface rooted at dir (DefaultDriverDir when
// empty). The telemetry table node is optional; platforms without one still
// get register access.
func OpenDriver(dir string) (*DriverGateway, error) {
	if dir == "" {
		dir = DefaultDriverDir
	}
	smnFile, err := os.OpenFile(filepath.Join(dir, "smn"), os.O_RDWR|os.O_SYNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("error accessing driver node %v", filepath.Join(dir, "smn"))
	}
	gw := &DriverGateway{dir: dir, smnFile: smnFile}
	if pmFile, err := os.OpenFile(filepath.Join(dir, "pm_table"), os.O_RDONLY|os.O_SYNC, 0644); err == nil {
		gw.pmFile = pmFile
	}
	return gw, nil
}

// Close releases the driver file handles.
func (gw *DriverGateway) Close() {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	_ = gw.smnFile.Close()
	if gw.pmFile != nil {
		_ = gw.pmFile.Close()
	}
}

// ReadRegister reads one 32-bit register by address.
func (gw *DriverGateway) ReadRegister(addr uint32) (uint32, error) {
	gw.mu.Lock()
	defer gw.mu.Unlock()

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], addr)
	if _, err := unix.Pwrite(int(gw.smnFile.Fd()), buf[:], 0); err != nil {
		return 0, fmt.Errorf("smn select 0x%08X: %w", addr, err)
	}
	if _, err := unix.Pread(int(gw.smnFile.Fd()), buf[:], 0); err != nil {
		return 0, fmt.Errorf("smn read 0x%08X: %w", addr, err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteRegister writes one 32-bit register by address.
func (gw *DriverGateway) WriteRegister(addr, value uint32) error {
	gw.mu.Lock()
	defer gw.mu.Unlock()

	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:4], addr)
	binary.LittleEndian.PutUint32(buf[4:], value)
	if _, err := unix.Pwrite(int(gw.smnFile.Fd()), buf[:], 0); err != nil {
		return fmt.Errorf("smn write 0x%08X: %w", addr, err)
	}
	return nil
}

// ReadTelemetryTable snapshots the telemetry table into buf. The driver
// refreshes the table on each read.
func (gw *DriverGateway) ReadTelemetryTable(buf []byte) error {
	gw.mu.Lock()
	defer gw.mu.Unlock()

	if gw.pmFile == nil {
		return fmt.Errorf("telemetry table not supported by this driver")
	}
	n, err := unix.Pread(int(gw.pmFile.Fd()), buf, 0)
	if err != nil {
		return fmt.Errorf("pm_table read: %w", err)
	}
	if n < len(buf) {
		return fmt.Errorf("pm_table short read: %d of %d bytes", n, len(buf))
	}
	return nil
}

// Identify reads the driver's identification nodes.
func (gw *DriverGateway) Identify() (DriverInfo, error) {
	var info DriverInfo

	fw, err := gw.readText("version")
	if err != nil {
		return info, err
	}
	info.FWVersion = fw

	codename, err := gw.readInt("codename")
	if err != nil {
		return info, err
	}
	info.CodenameID = codename

	// Optional nodes: older driver builds omit them.
	if ifVer, err := gw.readInt("mp1_if_version"); err == nil {
		info.IFVersion = ifVer
	}
	if v, err := gw.readBinU32("pm_table_version"); err == nil {
		info.TableVersion = v
	}
	if v, err := gw.readBinU32("pm_table_size"); err == nil {
		info.TableBytes = v
	}
	return info, nil
}

func (gw *DriverGateway) readText(node string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(gw.dir, node))
	if err != nil {
		return "", fmt.Errorf("driver node %s: %w", node, err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func (gw *DriverGateway) readInt(node string) (int, error) {
	s, err := gw.readText(node)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("driver node %s: %q: %w", node, s, err)
	}
	return v, nil
}

func (gw *DriverGateway) readBinU32(node string) (uint32, error) {
	raw, err := os.ReadFile(filepath.Join(gw.dir, node))
	if err != nil {
		return 0, fmt.Errorf("driver node %s: %w", node, err)
	}
	if len(raw) < 4 {
		return 0, fmt.Errorf("driver node %s: short value (%d bytes)", node, len(raw))
	}
	return binary.LittleEndian.Uint32(raw[:4]), nil
}
