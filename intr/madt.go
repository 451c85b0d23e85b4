package intr

import "encoding/binary"

/// MADT entry types, from the ACPI Multiple APIC Description Table.
const (
	MADT_ENTRY_LAPIC      = 0
	MADT_ENTRY_IOAPIC     = 1
	MADT_ENTRY_ISO        = 2
	MADT_ENTRY_NMI        = 3
	MADT_ENTRY_LAPIC_NMI  = 4
	MADT_ENTRY_LAPIC_ADDR = 5
	MADT_ENTRY_X2APIC     = 9
)

// sdtHeaderLen is the fixed ACPI system-description-table header: a
// 4-byte signature, 4-byte length, and 28 bytes of revision/checksum/
// OEM identification the parser skips over.
const sdtHeaderLen = 36

/// Madt_t is what boot learns from the MADT: where the local APIC and
/// the (first) I/O APIC are, plus any legacy-IRQ interrupt source
/// overrides.
type Madt_t struct {
	LapicAddr  uint32
	IoapicAddr uint32
	IoapicId   uint8
	// Overrides maps a legacy ISA IRQ to its global system interrupt
	// when the board routes it somewhere other than the identity slot.
	Overrides map[uint8]uint32
}

/// ParseMadt walks a raw MADT blob (header included) and extracts the
/// APIC addresses. Returns false if the signature is not "APIC" or
/// the table is truncated; boot then falls back to the architectural
/// default bases.
func ParseMadt(data []byte) (Madt_t, bool) {
	var m Madt_t
	if len(data) < sdtHeaderLen+8 {
		return m, false
	}
	if string(data[0:4]) != "APIC" {
		return m, false
	}
	length := binary.LittleEndian.Uint32(data[4:8])
	if int(length) > len(data) {
		return m, false
	}

	m.LapicAddr = binary.LittleEndian.Uint32(data[sdtHeaderLen:])
	m.Overrides = make(map[uint8]uint32)

	// entries start after lapic_addr and the MADT flags word
	off := sdtHeaderLen + 8
	for off+2 <= int(length) {
		typ := data[off]
		elen := int(data[off+1])
		if elen < 2 || off+elen > int(length) {
			break
		}
		switch typ {
		case MADT_ENTRY_IOAPIC:
			if elen >= 10 && m.IoapicAddr == 0 {
				m.IoapicId = data[off+2]
				m.IoapicAddr = binary.LittleEndian.Uint32(data[off+4:])
			}
		case MADT_ENTRY_ISO:
			if elen >= 8 {
				src := data[off+3]
				gsi := binary.LittleEndian.Uint32(data[off+4:])
				m.Overrides[src] = gsi
			}
		}
		off += elen
	}
	return m, m.LapicAddr != 0
}
