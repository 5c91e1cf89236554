// Package tsinspect provides a read-only MPEG-TS diagnostic decoder used by
// the `dvrstreamd inspect` subcommand. Unlike internal/dvrclient's inline TS
// filter, which only ever looks at PAT/PMT/PCR to the minimum depth the
// stream engine itself needs, this package runs a full table-aware demux
// purely for human-facing diagnostics and never mutates the stream it reads.
package tsinspect

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/asticode/go-astits"
)

// Report summarizes a single-pass scan of an MPEG-TS source: every program
// discovered via PAT/PMT, every PID observed with a packet count, and PCR
// presentation span per PID that ever carried a PCR field.
type Report struct {
	Programs  []ProgramInfo
	PIDCounts map[uint16]int
	PCRSpans  map[uint16]PCRSpan
	Packets   int
}

// ProgramInfo describes one program entry discovered via PAT/PMT.
type ProgramInfo struct {
	ProgramNumber uint16
	PMTPID        uint16
	StreamPIDs    []uint16
}

// PCRSpan records the first and last PCR value (90kHz) observed on a PID.
type PCRSpan struct {
	First uint64
	Last  uint64
	Count int
}

// Scan demuxes r until EOF or ctx cancellation, producing a Report. It never
// writes back to r and holds no state beyond what's needed to build the
// report, matching the read-only diagnostic role described in SPEC_FULL.md.
func Scan(ctx context.Context, r io.Reader) (*Report, error) {
	rep := &Report{
		PIDCounts: make(map[uint16]int),
		PCRSpans:  make(map[uint16]PCRSpan),
	}

	dmx := astits.NewDemuxer(ctx, r, astits.DemuxerOptPacketsParser(
		func(packets []*astits.Packet) ([]*astits.Packet, error) {
			for _, p := range packets {
				rep.Packets++
				rep.PIDCounts[p.Header.PID]++

				if p.AdaptationField != nil && p.AdaptationField.HasPCR && p.AdaptationField.PCR != nil {
					value := uint64(p.AdaptationField.PCR.Base)
					span, ok := rep.PCRSpans[p.Header.PID]
					if !ok {
						span.First = value
					}
					span.Last = value
					span.Count++
					rep.PCRSpans[p.Header.PID] = span
				}
			}
			return packets, nil
		},
	))

	programs := make(map[uint16]*ProgramInfo)

	for {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		data, err := dmx.NextData()
		if err != nil {
			if err == astits.ErrNoMorePackets || err == io.EOF {
				break
			}
			return rep, fmt.Errorf("demuxing: %w", err)
		}

		if data.PAT != nil {
			for _, entry := range data.PAT.Programs {
				if entry.ProgramNumber == 0 {
					continue
				}
				programs[entry.ProgramNumber] = &ProgramInfo{
					ProgramNumber: entry.ProgramNumber,
					PMTPID:        entry.ProgramMapID,
				}
			}
		}

		if data.PMT != nil {
			prog, ok := programs[data.PMT.ProgramNumber]
			if !ok {
				prog = &ProgramInfo{ProgramNumber: data.PMT.ProgramNumber, PMTPID: data.PID}
				programs[data.PMT.ProgramNumber] = prog
			}
			prog.StreamPIDs = prog.StreamPIDs[:0]
			for _, es := range data.PMT.ElementaryStreams {
				prog.StreamPIDs = append(prog.StreamPIDs, es.ElementaryPID)
			}
		}
	}

	rep.Programs = make([]ProgramInfo, 0, len(programs))
	for _, p := range programs {
		rep.Programs = append(rep.Programs, *p)
	}
	sort.Slice(rep.Programs, func(i, j int) bool {
		return rep.Programs[i].ProgramNumber < rep.Programs[j].ProgramNumber
	})

	return rep, nil
}
