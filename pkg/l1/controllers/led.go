package controllers

import (
	"context"
	"strings"
	"sync"

	"github.com/robotalks/robolink/pkg/l0/firmware"
	"github.com/robotalks/robolink/pkg/l0/protocol"
)

const ledOwner = "led"

// Emotions maps expression names onto firmware LED patterns.
var Emotions = map[string]int{
	"off":      firmware.LEDOff,
	"curious":  firmware.LEDBlink,
	"focused":  firmware.LEDBlink,
	"happy":    firmware.LEDFastPulse,
	"playful":  firmware.LEDFastPulse,
	"alert":    firmware.LEDFastPulse,
	"cautious": firmware.LEDFastPulse,
	"sad":      firmware.LEDSlowPulse,
	"resting":  firmware.LEDSlowPulse,
}

// LED drives the indicator LED.
type LED struct {
	conn Conn

	lock    sync.Mutex
	pattern int
}

// NewLED creates the LED controller.
func NewLED(conn Conn) *LED {
	return &LED{conn: conn}
}

// Name implements framework.Named.
func (l *LED) Name() string {
	return ledOwner
}

// Init turns the LED off.
func (l *LED) Init(ctx context.Context) error {
	return l.SetPattern(ctx, firmware.LEDOff)
}

// SetPattern runs a pattern, the id is clamped to the known patterns.
// The call blocks while the device plays the pattern.
func (l *LED) SetPattern(ctx context.Context, pattern int) error {
	cmd := protocol.NewCommand(protocol.LEDPattern, pattern)
	if _, err := l.conn.Do(ctx, ledOwner, cmd); err != nil {
		return err
	}
	l.lock.Lock()
	l.pattern = cmd.Arg
	l.lock.Unlock()
	return nil
}

// ShowEmotion plays the pattern mapped to an emotion name, unknown names
// blink once.
func (l *LED) ShowEmotion(ctx context.Context, emotion string) error {
	pattern, ok := Emotions[strings.ToLower(emotion)]
	if !ok {
		pattern = firmware.LEDBlink
	}
	return l.SetPattern(ctx, pattern)
}

// Alert plays the alert pattern.
func (l *LED) Alert(ctx context.Context) error {
	return l.SetPattern(ctx, firmware.LEDFastPulse)
}

// Pattern returns the last acknowledged pattern.
func (l *LED) Pattern() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.pattern
}

// Shutdown turns the LED off.
func (l *LED) Shutdown(ctx context.Context) error {
	return l.SetPattern(ctx, firmware.LEDOff)
}
