package input

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const procDevices = `I: Bus=0019 Vendor=0000 Product=0001 Version=0000
N: Name="Power Button"
P: Phys=LNXPWRBN/button/input0
S: Sysfs=/devices/LNXSYSTM:00/LNXPWRBN:00/input/input0
U: Uniq=
H: Handlers=kbd event0
B: PROP=0
B: EV=3
B: KEY=10000000000000 0

I: Bus=0011 Vendor=0001 Product=0001 Version=ab41
N: Name="AT Translated Set 2 keyboard"
P: Phys=isa0060/serio0/input0
S: Sysfs=/devices/platform/i8042/serio0/input/input3
U: Uniq=
H: Handlers=sysrq kbd leds event3
B: PROP=0
B: EV=120013
B: KEY=402000000 3803078f800d001 feffffdfffefffff fffffffffffffffe
B: MSC=10
B: LED=7

I: Bus=0003 Vendor=046d Product=c52b Version=0111
N: Name="Logitech USB Receiver Mouse"
P: Phys=usb-0000:00:14.0-2/input0
S: Sysfs=/devices/pci0000:00/0000:00:14.0/usb1/1-2/1-2:1.0/0003:046D:C52B.0001/input/input5
U: Uniq=
H: Handlers=mouse0 event5
B: PROP=0
B: EV=17
B: KEY=ffff0000 0 0 0 0
B: REL=1943

I: Bus=0003 Vendor=3434 Product=0281 Version=0111
N: Name="Keychron Keychron Q1"
P: Phys=usb-0000:00:14.0-3/input0
S: Sysfs=/devices/pci0000:00/0000:00:14.0/usb1/1-3/1-3:1.0/0003:3434:0281.0002/input/input7
U: Uniq=
H: Handlers=sysrq kbd leds event7
B: PROP=0
B: EV=120013
B: KEY=1000000000007 ff9f207ac14057ff febeffdfffefffff fffffffffffffffe
B: MSC=10
B: LED=1f
`

func TestParseInputDevices(t *testing.T) {
	keyboards, err := ParseInputDevices(strings.NewReader(procDevices))
	require.NoError(t, err)
	require.Len(t, keyboards, 2)

	at := keyboards[0]
	assert.Equal(t, "AT Translated Set 2 keyboard", at.Name)
	assert.Equal(t, "/dev/input/event3", at.EventPath)
	assert.Equal(t, ConnectionPS2, at.Connection)
	assert.Equal(t, "isa0060/serio0/input0", at.Phys)
	assert.Equal(t, uint16(0xab41), at.Version)
	assert.Equal(t, []string{"sysrq", "kbd", "leds", "event3"}, at.Handlers)
	assert.Empty(t, at.Vendor)

	kc := keyboards[1]
	assert.Equal(t, "Keychron Keychron Q1", kc.Name)
	assert.Equal(t, "/dev/input/event7", kc.EventPath)
	assert.Equal(t, ConnectionUSB, kc.Connection)
	assert.Equal(t, uint16(0x3434), kc.VendorID)
	assert.Equal(t, uint16(0x0281), kc.ProductID)
	assert.Equal(t, "Keychron", kc.Vendor)
	assert.Equal(t, "Keychron Keychron Q1 [3434:0281 USB]", kc.String())
}

func TestParseInputDevicesNoTrailingBlank(t *testing.T) {
	text := strings.TrimRight(procDevices, "\n")
	keyboards, err := ParseInputDevices(strings.NewReader(text))
	require.NoError(t, err)
	assert.Len(t, keyboards, 2)
}

func TestConnection(t *testing.T) {
	assert.Equal(t, ConnectionBluetooth, busToConnection(0x0005))
	assert.Equal(t, ConnectionInternal, busToConnection(0x0019))
	assert.Equal(t, ConnectionUnknown, busToConnection(0x00ff))

	assert.Equal(t, ConnectionUSB, physToConnection("usb-0000:00:14.0-3/input0"))
	assert.Equal(t, ConnectionPS2, physToConnection("isa0060/serio0/input0"))
	assert.Equal(t, ConnectionVirtual, physToConnection(""))
	assert.Equal(t, ConnectionUnknown, physToConnection("spi-xyz"))

	assert.True(t, ConnectionPS2.IsPhysical())
	assert.False(t, ConnectionVirtual.IsPhysical())
	assert.Equal(t, "PS/2", ConnectionPS2.String())
}

func TestKeyboardID(t *testing.T) {
	assert.Equal(t, "/dev/input/event3", Keyboard{EventPath: "/dev/input/event3", Name: "x"}.ID())
	assert.Equal(t, "usb-1|Board", Keyboard{Phys: "usb-1", Name: "Board"}.ID())
}

func TestDiffKeyboards(t *testing.T) {
	a := Keyboard{Name: "A", EventPath: "/dev/input/event3"}
	b := Keyboard{Name: "B", EventPath: "/dev/input/event7"}
	c := Keyboard{Name: "C", EventPath: "/dev/input/event9"}

	added, removed := diffKeyboards([]Keyboard{a, b}, []Keyboard{b, c})
	assert.Equal(t, []Keyboard{c}, added)
	assert.Equal(t, []Keyboard{a}, removed)

	added, removed = diffKeyboards([]Keyboard{a}, []Keyboard{a})
	assert.Empty(t, added)
	assert.Empty(t, removed)
}
