package input

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Connection indicates how a keyboard is attached.
type Connection int

const (
	ConnectionUnknown   Connection = iota
	ConnectionUSB                  // USB wired
	ConnectionBluetooth            // Bluetooth wireless
	ConnectionPS2                  // PS/2 or i8042 controller
	ConnectionInternal             // built-in laptop keyboard
	ConnectionVirtual              // uinput or other software device
)

// String returns the connection as a string.
func (c Connection) String() string {
	switch c {
	case ConnectionUSB:
		return "USB"
	case ConnectionBluetooth:
		return "Bluetooth"
	case ConnectionPS2:
		return "PS/2"
	case ConnectionInternal:
		return "Internal"
	case ConnectionVirtual:
		return "Virtual"
	default:
		return "Unknown"
	}
}

// IsPhysical reports whether the connection is real hardware.
func (c Connection) IsPhysical() bool {
	switch c {
	case ConnectionUSB, ConnectionBluetooth, ConnectionPS2, ConnectionInternal:
		return true
	default:
		return false
	}
}

// Keyboard describes one input device that looks like a keyboard.
type Keyboard struct {
	Name       string     `json:"name"`
	EventPath  string     `json:"event_path,omitempty"`
	Handlers   []string   `json:"handlers,omitempty"`
	Phys       string     `json:"phys,omitempty"`
	Sysfs      string     `json:"sysfs,omitempty"`
	VendorID   uint16     `json:"vendor_id"`
	ProductID  uint16     `json:"product_id"`
	Version    uint16     `json:"version"`
	Vendor     string     `json:"vendor,omitempty"`
	Connection Connection `json:"connection"`
}

// ID returns a stable identifier for the device while it stays attached.
func (k Keyboard) ID() string {
	if k.EventPath != "" {
		return k.EventPath
	}
	return k.Phys + "|" + k.Name
}

func (k Keyboard) String() string {
	return fmt.Sprintf("%s [%04x:%04x %s]", k.Name, k.VendorID, k.ProductID, k.Connection)
}

// ProcInputDevices is the kernel's input device listing.
const ProcInputDevices = "/proc/bus/input/devices"

var nameRe = regexp.MustCompile(`Name="([^"]*)"`)

// ParseInputDevices parses the format of /proc/bus/input/devices and returns
// the devices with a keyboard-sized key capability bitmap.
func ParseInputDevices(r io.Reader) ([]Keyboard, error) {
	var keyboards []Keyboard
	var current Keyboard
	var isKeyboard bool

	finish := func() {
		if isKeyboard && current.Name != "" {
			current.Vendor = LookupVendorName(current.VendorID)
			if current.Connection == ConnectionUnknown {
				current.Connection = physToConnection(current.Phys)
			}
			keyboards = append(keyboards, current)
		}
		current = Keyboard{}
		isKeyboard = false
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		// I: Bus=0003 Vendor=046d Product=c52b Version=0111
		case strings.HasPrefix(line, "I:"):
			for _, part := range strings.Fields(line[2:]) {
				key, val, ok := strings.Cut(part, "=")
				if !ok {
					continue
				}
				v, err := strconv.ParseUint(val, 16, 16)
				if err != nil {
					continue
				}
				switch key {
				case "Bus":
					current.Connection = busToConnection(uint16(v))
				case "Vendor":
					current.VendorID = uint16(v)
				case "Product":
					current.ProductID = uint16(v)
				case "Version":
					current.Version = uint16(v)
				}
			}

		// N: Name="AT Translated Set 2 keyboard"
		case strings.HasPrefix(line, "N:"):
			if m := nameRe.FindStringSubmatch(line); len(m) > 1 {
				current.Name = m[1]
			}

		// P: Phys=isa0060/serio0/input0
		case strings.HasPrefix(line, "P: Phys="):
			current.Phys = strings.TrimPrefix(line, "P: Phys=")

		// S: Sysfs=/devices/platform/i8042/serio0/input/input3
		case strings.HasPrefix(line, "S: Sysfs="):
			current.Sysfs = strings.TrimPrefix(line, "S: Sysfs=")

		// H: Handlers=sysrq kbd event3 leds
		case strings.HasPrefix(line, "H: Handlers="):
			current.Handlers = strings.Fields(strings.TrimPrefix(line, "H: Handlers="))
			for _, h := range current.Handlers {
				if strings.HasPrefix(h, "event") {
					current.EventPath = "/dev/input/" + h
				}
			}

		// B: KEY=... a keyboard sets many key bits
		case strings.HasPrefix(line, "B: KEY="):
			bits := strings.TrimPrefix(line, "B: KEY=")
			isKeyboard = len(bits) > 20 && slices.Contains(current.Handlers, "kbd")

		// Empty line ends a device block
		case strings.TrimSpace(line) == "":
			finish()
		}
	}
	finish()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parse input devices: %w", err)
	}
	return keyboards, nil
}

// busToConnection converts a Linux BUS_* code.
func busToConnection(bus uint16) Connection {
	switch bus {
	case 0x0003: // BUS_USB
		return ConnectionUSB
	case 0x0005: // BUS_BLUETOOTH
		return ConnectionBluetooth
	case 0x0011: // BUS_I8042
		return ConnectionPS2
	case 0x0019, 0x001F: // BUS_HOST, BUS_RMI
		return ConnectionInternal
	case 0x0006: // BUS_VIRTUAL
		return ConnectionVirtual
	default:
		return ConnectionUnknown
	}
}

// physToConnection guesses the connection from the phys path.
func physToConnection(phys string) Connection {
	phys = strings.ToLower(phys)
	switch {
	case strings.HasPrefix(phys, "usb-"):
		return ConnectionUSB
	case strings.Contains(phys, "bluetooth"), strings.HasPrefix(phys, "bt-"):
		return ConnectionBluetooth
	case strings.HasPrefix(phys, "isa"), strings.Contains(phys, "i8042"), strings.Contains(phys, "serio"):
		return ConnectionPS2
	case strings.HasPrefix(phys, "virtual"), phys == "":
		return ConnectionVirtual
	default:
		return ConnectionUnknown
	}
}

// WellKnownVendors maps USB vendor ids to names.
var WellKnownVendors = map[uint16]string{
	0x045E: "Microsoft",
	0x046D: "Logitech",
	0x04D9: "Holtek (generic)",
	0x05AC: "Apple",
	0x0951: "Kingston (HyperX)",
	0x1038: "SteelSeries",
	0x1532: "Razer",
	0x17EF: "Lenovo",
	0x1B1C: "Corsair",
	0x258A: "SINO WEALTH (generic)",
	0x3297: "ZSA",
	0x3434: "Keychron",
	0xFEED: "Custom/QMK",
}

// LookupVendorName returns a human-readable vendor name.
func LookupVendorName(vendorID uint16) string {
	return WellKnownVendors[vendorID]
}

// diffKeyboards compares two device lists by ID.
func diffKeyboards(old, cur []Keyboard) (added, removed []Keyboard) {
	known := make(map[string]bool, len(old))
	for _, k := range old {
		known[k.ID()] = true
	}
	now := make(map[string]bool, len(cur))
	for _, k := range cur {
		now[k.ID()] = true
		if !known[k.ID()] {
			added = append(added, k)
		}
	}
	for _, k := range old {
		if !now[k.ID()] {
			removed = append(removed, k)
		}
	}
	return added, removed
}
