package bridge

import (
	"math"

	"tracker-bridge/params"
)

// Transport and mixer shortcuts. Each is an ordinary host write.

func (s *Session) Play()           { s.SetParameterValue(params.Play, 1) }
func (s *Session) Stop()           { s.SetParameterValue(params.Play, 0) }
func (s *Session) IsPlaying() bool { return s.store.Read(params.Play) >= 1 }

// TogglePlay flips the play state
func (s *Session) TogglePlay() {
	if s.IsPlaying() {
		s.Stop()
	} else {
		s.Play()
	}
}

// ToggleRecord flips the record state
func (s *Session) ToggleRecord() {
	s.SetParameterValue(params.Record, 1-s.store.Read(params.Record))
}

func (s *Session) IsRecording() bool { return s.store.Read(params.Record) >= 1 }

// SelectPattern queues a pattern change (0-127)
func (s *Session) SelectPattern(n int) { s.SetParameterValue(params.Pattern, float32(n)) }

func (s *Session) CurrentPattern() int { return int(s.store.Read(params.Pattern)) }

// SetBPM sets the tempo; the device only sees it at ~1.1 BPM resolution
func (s *Session) SetBPM(bpm int) { s.SetParameterValue(params.Tempo, float32(bpm)) }

// CurrentBPM returns the tempo rounded to a whole BPM
func (s *Session) CurrentBPM() int {
	return int(math.Round(float64(s.store.Read(params.Tempo))))
}

func validTrack(track int) bool { return track >= 0 && track < params.NumTracks }

// SetTrackVolume sets a track's volume (track is 0-based)
func (s *Session) SetTrackVolume(track int, v float32) {
	if validTrack(track) {
		s.SetParameterValue(params.TrackVolume(track), v)
	}
}

// SetTrackPan sets a track's pan in [-1,1]
func (s *Session) SetTrackPan(track int, v float32) {
	if validTrack(track) {
		s.SetParameterValue(params.TrackPan(track), v)
	}
}

func (s *Session) MuteTrack(track int) {
	if validTrack(track) {
		s.SetParameterValue(params.TrackMute(track), 1)
	}
}

func (s *Session) UnmuteTrack(track int) {
	if validTrack(track) {
		s.SetParameterValue(params.TrackMute(track), 0)
	}
}

// ToggleMute flips one track's mute
func (s *Session) ToggleMute(track int) {
	if !validTrack(track) {
		return
	}
	a := params.TrackMute(track)
	s.SetParameterValue(a, 1-s.store.Read(a))
}

// SoloTrack unmutes track and mutes the rest. The device has no solo
// control, so this is expressed entirely as mutes.
func (s *Session) SoloTrack(track int) {
	if !validTrack(track) {
		return
	}
	for i := 0; i < params.NumTracks; i++ {
		if i == track {
			s.UnmuteTrack(i)
		} else {
			s.MuteTrack(i)
		}
	}
}

func (s *Session) SetDelayLevel(v float32)  { s.SetParameterValue(params.Delay, v) }
func (s *Session) SetReverbLevel(v float32) { s.SetParameterValue(params.Reverb, v) }
func (s *Session) DelayLevel() float32      { return s.store.Read(params.Delay) }
func (s *Session) ReverbLevel() float32     { return s.store.Read(params.Reverb) }

// SetMacroValue sets a macro (0-based) in [0,1]
func (s *Session) SetMacroValue(macro int, v float32) {
	if macro >= 0 && macro < params.NumMacros {
		s.SetParameterValue(params.Macro(macro), v)
	}
}

func (s *Session) TrackVolumes() []float32 { return s.readBlock(params.TrackVolumeBase, params.NumTracks) }
func (s *Session) TrackPans() []float32    { return s.readBlock(params.TrackPanBase, params.NumTracks) }
func (s *Session) MacroValues() []float32  { return s.readBlock(params.MacroBase, params.NumMacros) }

// TrackMutes reports each track's mute state
func (s *Session) TrackMutes() []bool {
	out := make([]bool, params.NumTracks)
	for i := range out {
		out[i] = s.store.Read(params.TrackMute(i)) >= 1
	}
	return out
}

func (s *Session) readBlock(base params.Address, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = s.store.Read(base + params.Address(i))
	}
	return out
}
