package dvrclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makePacket(pid uint16, pusi bool, hasAdaptation, hasPayload bool) []byte {
	p := make([]byte, tsPacketLength)
	p[0] = 0x47
	b1 := byte(pid >> 8 & 0x1F)
	if pusi {
		b1 |= 0x40
	}
	p[1] = b1
	p[2] = byte(pid)
	b3 := byte(0)
	if hasAdaptation {
		b3 |= 0x20
	}
	if hasPayload {
		b3 |= 0x10
	}
	p[3] = b3
	return p
}

func TestFilterSyncLossDisablesPermanently(t *testing.T) {
	f := newTSFilter()
	good := makePacket(0x100, false, false, true)
	bad := makePacket(0x100, false, false, true)
	bad[0] = 0x00 // corrupt sync byte

	buf := append(bad, good...)
	f.filterPackets(buf, 2)

	assert.False(t, f.filterEnabled)
	assert.False(t, f.pcrsEnabled)
	assert.Equal(t, uint64(0), f.startPTS)
}

func TestFilterPATDiscoversPMTPID(t *testing.T) {
	f := newTSFilter()
	packet := makePacket(patPID, true, false, true)
	// payload starts at offset 4: pointer field (0x00, no filler),
	// then PAT table: table_id(1) + length bytes(2) + ts_id(2) + misc(1) +
	// section_number(1) + last_section_number(1) = 8 bytes header,
	// then one program entry: program_number(2) + pmt_pid(2).
	packet[4] = 0x00 // pointer field: no filler
	cur := 5
	packet[cur+6] = 0x00 // first_section (offset 6 from table start)
	packet[cur+7] = 0x00 // last_section (offset 7 from table start)
	// advance 8 bytes from cur (table header) -> program entry at cur+8
	entry := cur + 8
	packet[entry] = 0x00
	packet[entry+1] = 0x01 // program number = 1 (non-zero)
	packet[entry+2] = 0x1F
	packet[entry+3] = 0xFF // pmt pid low 13 bits = 0x1FFF

	f.filterPackets(packet, 1)

	_, ok := f.pmtPIDs[0x1FFF]
	assert.True(t, ok)
}

func TestFilterPMTRewriteSplicesSCTETable(t *testing.T) {
	f := newTSFilter()
	f.pmtPIDs[0x50] = struct{}{}

	packet := makePacket(0x50, true, false, true)
	cur := 4
	packet[cur] = 0x00 // pointer field: 0, no filler

	scteStart := cur + 1
	bodyLen := 10
	packet[scteStart] = 0xC0                     // SCTE table id
	packet[scteStart+1] = byte(bodyLen >> 8 & 3)  // length high bits
	packet[scteStart+2] = byte(bodyLen)           // length low bits
	pmtTableIDIdx := scteStart + 3 + bodyLen
	require.Less(t, pmtTableIDIdx, tsPacketLength)
	packet[pmtTableIDIdx] = 0x02 // PMT table id immediately follows

	f.filterPackets(packet, 1)

	assert.Equal(t, byte(3+bodyLen), packet[cur])
	for i := 0; i < 3+bodyLen; i++ {
		assert.Equal(t, byte(0xFF), packet[scteStart+i], "byte %d should be stuffed", i)
	}
}

func TestFilterPMTRewriteAbandonsOversizedEntry(t *testing.T) {
	f := newTSFilter()
	f.pmtPIDs[0x50] = struct{}{}

	packet := makePacket(0x50, true, false, true)
	cur := 4
	packet[cur] = 0x00
	scteStart := cur + 1
	packet[scteStart] = 0xC0
	// Length field claims a body far larger than fits in the packet.
	packet[scteStart+1] = 0x03
	packet[scteStart+2] = 0xFF

	original := append([]byte(nil), packet...)
	f.filterPackets(packet, 1)

	assert.Equal(t, original, packet)
}

func TestFilterPCRTracking(t *testing.T) {
	f := newTSFilter()
	packet := makePacket(0x100, false, true, true)
	packet[4] = 7 // adaptation length
	packet[5] = 0x10 // PCR_flag
	// PCR bytes: encode base=12345 at 90kHz.
	base := uint64(12345)
	packet[6] = byte(base >> 25)
	packet[7] = byte(base >> 17)
	packet[8] = byte(base >> 9)
	packet[9] = byte(base >> 1)
	packet[10] = byte((base & 1) << 7)
	packet[11] = 0x00

	f.filterPackets(packet, 1)

	assert.Equal(t, base, f.startPTS)
	assert.Equal(t, base, f.currentPTS)
	assert.Equal(t, uint16(0x100), f.pcrPID)
}

func TestFilterPCRRegressionDisables(t *testing.T) {
	f := newTSFilter()
	f.pcrPID = 0x100
	f.startPTS = 5000
	f.currentPTS = 5000

	packet := makePacket(0x100, false, true, true)
	packet[4] = 7
	packet[5] = 0x10
	small := uint64(100)
	packet[6] = byte(small >> 25)
	packet[7] = byte(small >> 17)
	packet[8] = byte(small >> 9)
	packet[9] = byte(small >> 1)
	packet[10] = byte((small & 1) << 7)
	packet[11] = 0x00

	f.filterPackets(packet, 1)

	assert.False(t, f.pcrsEnabled)
	assert.Equal(t, uint64(0), f.startPTS)
	assert.Equal(t, uint64(0), f.currentPTS)
}
