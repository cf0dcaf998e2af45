package consultation

import (
	"sync"

	"github.com/mediconnect/server/internal/audio"
)

// captureProcessor pumps microphone blocks through the PCM encoder in
// capture order. Disconnecting it stops delivery but leaves the stream
// itself running; the controller stops the stream separately.
type captureProcessor struct {
	stream audio.MediaStream
	rate   int
	send   func(audio.AudioFrame)

	quit chan struct{}
	done chan struct{}
	once sync.Once
}

func startCapture(stream audio.MediaStream, rate int, send func(audio.AudioFrame)) *captureProcessor {
	p := &captureProcessor{
		stream: stream,
		rate:   rate,
		send:   send,
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *captureProcessor) run() {
	defer close(p.done)

	srcRate := p.stream.SampleRate()
	blocks := p.stream.Blocks()
	for {
		select {
		case <-p.quit:
			return
		case block, ok := <-blocks:
			if !ok {
				return
			}
			// A block read just before disconnect is dropped.
			select {
			case <-p.quit:
				return
			default:
			}
			samples := audio.Resample(block, srcRate, p.rate)
			p.send(audio.NewFrame(samples, p.rate))
		}
	}
}

// disconnect stops frame delivery. Safe to call more than once. It does not
// wait for the pump goroutine, which may be blocked on the controller.
func (p *captureProcessor) disconnect() {
	p.once.Do(func() { close(p.quit) })
}
