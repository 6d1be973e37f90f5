package diarize

import (
	"testing"

	"github.com/Theesthan/VoxSentinel/pkg/types"
)

func holderWith(segments ...types.SpeakerSegment) *Holder {
	h := NewHolder()
	h.Set(segments)
	return h
}

func TestAssignSpeaker_NoSegments(t *testing.T) {
	t.Parallel()
	h := NewHolder()
	if got := h.AssignSpeaker(0, 100); got != types.SpeakerUnknown {
		t.Errorf("AssignSpeaker = %q, want %q", got, types.SpeakerUnknown)
	}
}

func TestAssignSpeaker_Containment(t *testing.T) {
	t.Parallel()
	h := holderWith(
		types.SpeakerSegment{SpeakerID: "SPEAKER_00", StartMs: 0, EndMs: 1000},
		types.SpeakerSegment{SpeakerID: "SPEAKER_01", StartMs: 1000, EndMs: 2500},
	)

	// Token starts at 400 inside SPEAKER_00.
	if got := h.AssignSpeaker(400, 600); got != "SPEAKER_00" {
		t.Errorf("AssignSpeaker(400,600) = %q, want SPEAKER_00", got)
	}
	// Token starts at 1500 inside SPEAKER_01.
	if got := h.AssignSpeaker(1500, 1900); got != "SPEAKER_01" {
		t.Errorf("AssignSpeaker(1500,1900) = %q, want SPEAKER_01", got)
	}
}

func TestAssignSpeaker_StartContainmentWinsOverOverlap(t *testing.T) {
	t.Parallel()
	h := holderWith(
		types.SpeakerSegment{SpeakerID: "SPEAKER_00", StartMs: 0, EndMs: 150},
		types.SpeakerSegment{SpeakerID: "SPEAKER_01", StartMs: 250, EndMs: 400},
	)

	// The token starts inside SPEAKER_00 and runs into SPEAKER_01; the
	// segment containing the start wins.
	if got := h.AssignSpeaker(100, 300); got != "SPEAKER_00" {
		t.Errorf("AssignSpeaker(100,300) = %q, want SPEAKER_00", got)
	}
}

func TestAssignSpeaker_GapReachingNextSegment(t *testing.T) {
	t.Parallel()
	h := holderWith(
		types.SpeakerSegment{SpeakerID: "SPEAKER_00", StartMs: 0, EndMs: 500},
		types.SpeakerSegment{SpeakerID: "SPEAKER_01", StartMs: 1500, EndMs: 2000},
	)

	// The token starts in the gap but overlaps the next segment's start.
	if got := h.AssignSpeaker(900, 1600); got != "SPEAKER_01" {
		t.Errorf("AssignSpeaker reaching next = %q, want SPEAKER_01", got)
	}
}

func TestAssignSpeaker_GapFallsBackToNearestBoundary(t *testing.T) {
	t.Parallel()
	h := holderWith(
		types.SpeakerSegment{SpeakerID: "SPEAKER_00", StartMs: 0, EndMs: 100},
		types.SpeakerSegment{SpeakerID: "SPEAKER_01", StartMs: 900, EndMs: 1000},
	)

	// The token is stranded in the gap, touching neither segment; the
	// boundary nearest its midpoint (200) is SPEAKER_00's end at 100.
	if got := h.AssignSpeaker(150, 250); got != "SPEAKER_00" {
		t.Errorf("AssignSpeaker in gap = %q, want SPEAKER_00", got)
	}
}

func TestAssignSpeaker_PastEndUsesNearestBoundary(t *testing.T) {
	t.Parallel()
	h := holderWith(
		types.SpeakerSegment{SpeakerID: "SPEAKER_00", StartMs: 0, EndMs: 500},
		types.SpeakerSegment{SpeakerID: "SPEAKER_01", StartMs: 500, EndMs: 2000},
	)

	// The token midpoint 2500 is beyond every segment; SPEAKER_01's end at
	// 2000 is the closest boundary.
	if got := h.AssignSpeaker(2400, 2600); got != "SPEAKER_01" {
		t.Errorf("AssignSpeaker past end = %q, want SPEAKER_01", got)
	}
}

func TestAssignSpeaker_BeforeFirstSegmentOverlap(t *testing.T) {
	t.Parallel()
	h := holderWith(
		types.SpeakerSegment{SpeakerID: "SPEAKER_00", StartMs: 500, EndMs: 1000},
	)

	// The token starts before the first segment but reaches into it.
	if got := h.AssignSpeaker(400, 600); got != "SPEAKER_00" {
		t.Errorf("AssignSpeaker before first = %q, want SPEAKER_00", got)
	}
}

func TestHolder_SetReplacesWholesale(t *testing.T) {
	t.Parallel()
	h := holderWith(types.SpeakerSegment{SpeakerID: "SPEAKER_00", StartMs: 0, EndMs: 1000})
	h.Set([]types.SpeakerSegment{{SpeakerID: "SPEAKER_05", StartMs: 3000, EndMs: 4000}})

	if got := h.AssignSpeaker(3200, 3400); got != "SPEAKER_05" {
		t.Errorf("AssignSpeaker after replace = %q, want SPEAKER_05", got)
	}
	if len(h.Snapshot()) != 1 {
		t.Errorf("Snapshot length = %d, want 1", len(h.Snapshot()))
	}
}

func TestHolder_SetSortsSegments(t *testing.T) {
	t.Parallel()
	h := holderWith(
		types.SpeakerSegment{SpeakerID: "B", StartMs: 2000, EndMs: 3000},
		types.SpeakerSegment{SpeakerID: "A", StartMs: 0, EndMs: 1000},
	)
	snap := h.Snapshot()
	if snap[0].SpeakerID != "A" || snap[1].SpeakerID != "B" {
		t.Errorf("Snapshot not sorted: %+v", snap)
	}
}
