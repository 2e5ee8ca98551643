package animation

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/steamanim/internal/common"
)

// FrameSource yields the next display string. Implementations are called
// from one tick at a time but must tolerate calls from different goroutines.
type FrameSource interface {
	Next() string
}

// RoundRobin cycles a fixed list of frames.
type RoundRobin struct {
	mu     sync.Mutex
	frames []string
	index  int
}

// NewRoundRobin creates a round robin source. The list must not be empty.
func NewRoundRobin(frames []string) (*RoundRobin, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("at least one frame is required")
	}
	return &RoundRobin{frames: append([]string(nil), frames...)}, nil
}

// Next returns frames[i mod len] and advances i.
func (r *RoundRobin) Next() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	frame := r.Frame(r.index)
	r.index = (r.index + 1) % len(r.frames)
	return frame
}

// Frame returns the frame shown at tick i.
func (r *RoundRobin) Frame(i int) string {
	n := len(r.frames)
	return r.frames[((i%n)+n)%n]
}

// Len returns the cycle length.
func (r *RoundRobin) Len() int {
	return len(r.frames)
}

// Bucket is a coarse time of day.
type Bucket int

const (
	Night Bucket = iota
	Morning
	Afternoon
	Evening
)

func (b Bucket) String() string {
	switch b {
	case Night:
		return "night"
	case Morning:
		return "morning"
	case Afternoon:
		return "afternoon"
	default:
		return "evening"
	}
}

// BucketFor maps a local hour onto its bucket.
func BucketFor(hour int) Bucket {
	switch {
	case hour < 6:
		return Night
	case hour < 12:
		return Morning
	case hour < 18:
		return Afternoon
	default:
		return Evening
	}
}

// DefaultPhrases is the flavour text used in phrases mode.
var DefaultPhrases = map[Bucket][]string{
	Night: {
		"still up, still grinding",
		"one more match then bed",
		"the queue never sleeps",
		"lurking in the dark",
	},
	Morning: {
		"coffee first, games later",
		"good morning, backlog",
		"booting up slowly",
		"checking the daily deals",
	},
	Afternoon: {
		"pretending to work",
		"lunch break speedrun",
		"afk, brb",
		"patch notes reading time",
	},
	Evening: {
		"prime time gaming",
		"squad up?",
		"one more turn",
		"queueing for ranked",
	},
}

// ContextPhrase picks a random phrase for the current time of day and
// appends a timestamp.
type ContextPhrase struct {
	mu     sync.Mutex
	rng    *rand.Rand
	now    func() time.Time
	layout string
	pools  map[Bucket][]string
}

// PhraseOption configures a ContextPhrase.
type PhraseOption func(*ContextPhrase)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) PhraseOption {
	return func(p *ContextPhrase) {
		p.now = now
	}
}

// WithSeed makes the phrase choice deterministic.
func WithSeed(seed int64) PhraseOption {
	return func(p *ContextPhrase) {
		p.rng = rand.New(rand.NewSource(seed))
	}
}

// WithPhrases replaces the phrase pools. Buckets left empty fall back to the defaults.
func WithPhrases(pools map[Bucket][]string) PhraseOption {
	return func(p *ContextPhrase) {
		for b, phrases := range pools {
			if len(phrases) > 0 {
				p.pools[b] = phrases
			}
		}
	}
}

// NewContextPhrase creates a phrase source. An empty layout omits the timestamp.
func NewContextPhrase(layout string, opts ...PhraseOption) *ContextPhrase {
	p := &ContextPhrase{
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		now:    time.Now,
		layout: layout,
		pools:  make(map[Bucket][]string, len(DefaultPhrases)),
	}
	for b, phrases := range DefaultPhrases {
		p.pools[b] = phrases
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Next returns "<phrase> | <timestamp>".
func (p *ContextPhrase) Next() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	pool := p.pools[BucketFor(now.Hour())]
	phrase := pool[p.rng.Intn(len(pool))]

	if p.layout == "" {
		return phrase
	}
	return phrase + " | " + now.Format(p.layout)
}

// NewFrameSource builds the source selected by animation.mode.
func NewFrameSource(config common.AnimationConfig) (FrameSource, error) {
	switch strings.ToLower(config.Mode) {
	case "", "frames":
		return NewRoundRobin(config.Frames)
	case "phrases":
		return NewContextPhrase(config.TimestampLayout), nil
	default:
		return nil, fmt.Errorf("unknown animation mode %q", config.Mode)
	}
}
