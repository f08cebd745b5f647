package sandbox

import (
	"context"
	"math"
	"time"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
)

// Fuel policy. One millisecond of timeout buys FuelPerMillisecond units;
// entering a guest function costs GuestCallFuel and entering a host (WASI)
// function costs HostCallFuel. The mapping is a fixed policy so runs are
// reproducible, not a wall-clock guarantee.
const (
	FuelPerMillisecond uint64 = 10_000
	GuestCallFuel      uint64 = 1
	HostCallFuel       uint64 = 100
)

// BackstopSlack multiplies the budget's nominal duration to obtain the
// deadline after which a guest that never enters a function is stopped.
const BackstopSlack = 2

// FuelForTimeout converts a timeout in milliseconds into fuel, saturating
// at math.MaxUint64.
func FuelForTimeout(ms uint64) uint64 {
	if ms > math.MaxUint64/FuelPerMillisecond {
		return math.MaxUint64
	}
	return ms * FuelPerMillisecond
}

// backstopFor returns the deadline duration for a budget; ok is false for
// an effectively unbounded budget.
func backstopFor(fuel uint64) (time.Duration, bool) {
	ms := fuel / FuelPerMillisecond
	if fuel == math.MaxUint64 || ms > uint64(math.MaxInt64/int64(time.Millisecond))/BackstopSlack {
		return 0, false
	}
	return time.Duration(ms*BackstopSlack) * time.Millisecond, true
}

// fuelMeter is the per-run budget. Only the goroutine running the guest
// touches it.
type fuelMeter struct {
	remaining uint64
	consumed  uint64
}

func (m *fuelMeter) set(fuel uint64) {
	m.remaining = fuel
}

// consume charges n units, panicking with ErrBudgetExhausted when the meter
// cannot pay. The engine recovers the panic and returns it from the call.
func (m *fuelMeter) consume(n uint64) {
	if m.remaining < n {
		m.consumed += m.remaining
		m.remaining = 0
		panic(ErrBudgetExhausted)
	}
	m.remaining -= n
	m.consumed += n
}

type fuelMeterKey struct{}

func withFuelMeter(ctx context.Context, m *fuelMeter) context.Context {
	return context.WithValue(ctx, fuelMeterKey{}, m)
}

func fuelMeterFrom(ctx context.Context) *fuelMeter {
	m, _ := ctx.Value(fuelMeterKey{}).(*fuelMeter)
	return m
}

// fuelListenerFactory attaches a fuel charge to every function the runtime
// compiles. The meter is looked up in the call context, so one compiled
// module serves any number of independent runs.
type fuelListenerFactory struct{}

func (fuelListenerFactory) NewFunctionListener(def api.FunctionDefinition) experimental.FunctionListener {
	cost := GuestCallFuel
	if def.GoFunction() != nil {
		cost = HostCallFuel
	}
	return fuelListener{cost: cost}
}

type fuelListener struct {
	cost uint64
}

func (l fuelListener) Before(ctx context.Context, _ api.Module, _ api.FunctionDefinition, _ []uint64, _ experimental.StackIterator) {
	if m := fuelMeterFrom(ctx); m != nil {
		m.consume(l.cost)
	}
}

func (fuelListener) After(context.Context, api.Module, api.FunctionDefinition, []uint64) {}

func (fuelListener) Abort(context.Context, api.Module, api.FunctionDefinition, error) {}
