package consultation

import (
	"fmt"
	"time"

	"github.com/mediconnect/server/domain/repositories"
	"github.com/mediconnect/server/internal/audio"
	"github.com/mediconnect/server/internal/observability"
)

// player owns the output device and playback timeline of one attempt.
type player struct {
	output    audio.Output
	scheduler *audio.Scheduler
}

func newPlayer(output audio.Output) *player {
	return &player{
		output:    output,
		scheduler: audio.NewScheduler(output),
	}
}

// enqueue decodes a synthesized chunk and schedules it right after the
// previously queued audio.
func (p *player) enqueue(chunk repositories.AudioChunk) (time.Duration, error) {
	rate := chunk.SampleRate
	if rate <= 0 {
		rate = audio.OutputSampleRate
	}
	buf, err := audio.DecodePCM16(chunk.Data, rate, 1)
	if err != nil {
		return 0, fmt.Errorf("decode audio chunk: %w", err)
	}
	if buf.Frames() == 0 {
		return 0, nil
	}

	queued := p.scheduler.Buffered()
	start := p.scheduler.Schedule(buf.Duration())
	if err := p.output.Play(buf, start); err != nil {
		return start, fmt.Errorf("play audio chunk: %w", err)
	}
	observability.RecordChunkScheduled(queued)
	return start, nil
}

func (p *player) close() error {
	return p.output.Close()
}
