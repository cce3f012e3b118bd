package turn

import (
	"math/rand"
	"sync"
	"time"
)

// DiceSides is the size of the shared die.
const DiceSides = 6

// Dice produces the shared roll each turn.
type Dice interface {
	Roll() int
}

// RandomDice rolls a fair six-sided die. Safe for concurrent use.
type RandomDice struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomDice seeds a die; a zero seed uses the clock.
func NewRandomDice(seed int64) *RandomDice {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandomDice{rng: rand.New(rand.NewSource(seed))}
}

// Roll returns a value in [1, DiceSides].
func (d *RandomDice) Roll() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rng.Intn(DiceSides) + 1
}

// ScriptedDice replays fixed rolls, repeating the last one when exhausted.
type ScriptedDice struct {
	mu    sync.Mutex
	rolls []int
	next  int
}

// NewScriptedDice returns dice that yield rolls in order.
func NewScriptedDice(rolls ...int) *ScriptedDice {
	if len(rolls) == 0 {
		rolls = []int{1}
	}
	return &ScriptedDice{rolls: rolls}
}

// Roll returns the next scripted value.
func (d *ScriptedDice) Roll() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	r := d.rolls[d.next]
	if d.next < len(d.rolls)-1 {
		d.next++
	}
	return r
}
