package hook

import (
	"fmt"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/wegman-software/pointtiles-go/internal/logger"
	"github.com/wegman-software/pointtiles-go/internal/point"
)

// Runtime runs a Lua script against every accepted record.
//
// The script may define a global process_record(record) function. record.lon and
// record.lat hold the coordinates and record.properties the configured property
// fields. Returning false drops the record. Changes to existing property keys are
// copied back; new keys and coordinate edits are ignored.
type Runtime struct {
	L       *lua.LState
	mu      sync.Mutex
	process lua.LValue
}

// NewRuntime creates a Lua state with the standard libraries opened
func NewRuntime() *Runtime {
	r := &Runtime{
		L: lua.NewState(),
	}
	r.L.SetGlobal("print", r.L.NewFunction(luaPrint))
	return r
}

// Close releases Lua resources
func (r *Runtime) Close() {
	r.L.Close()
}

// LoadFile loads and executes a hook script
func (r *Runtime) LoadFile(path string) error {
	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to load Lua file: %w", err)
	}
	r.process = r.L.GetGlobal("process_record")
	return nil
}

// LoadString loads and executes Lua code from a string
func (r *Runtime) LoadString(code string) error {
	if err := r.L.DoString(code); err != nil {
		return fmt.Errorf("failed to load Lua code: %w", err)
	}
	r.process = r.L.GetGlobal("process_record")
	return nil
}

// HasProcess reports whether the script defines process_record
func (r *Runtime) HasProcess() bool {
	return r.process != nil && r.process.Type() == lua.LTFunction
}

// Process calls process_record for rec. It reports whether the record is kept.
func (r *Runtime) Process(rec *point.Record) (bool, error) {
	if !r.HasProcess() {
		return true, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	L := r.L
	tbl := r.recordToLua(rec)
	if err := L.CallByParam(lua.P{
		Fn:      r.process,
		NRet:    1,
		Protect: true,
	}, tbl); err != nil {
		return false, fmt.Errorf("lua callback error: %w", err)
	}
	ret := L.Get(-1)
	L.Pop(1)

	if ret == lua.LFalse {
		return false, nil
	}

	if props, ok := tbl.RawGetString("properties").(*lua.LTable); ok {
		for k := range rec.Properties {
			switch v := props.RawGetString(k).(type) {
			case lua.LString:
				rec.Properties[k] = string(v)
			case lua.LNumber:
				rec.Properties[k] = v.String()
			case lua.LBool:
				rec.Properties[k] = v.String()
			case *lua.LNilType:
				rec.Properties[k] = ""
			}
		}
	}
	return true, nil
}

func (r *Runtime) recordToLua(rec *point.Record) *lua.LTable {
	L := r.L
	tbl := L.NewTable()
	tbl.RawSetString("lon", lua.LNumber(rec.Lon))
	tbl.RawSetString("lat", lua.LNumber(rec.Lat))

	props := L.NewTable()
	for k, v := range rec.Properties {
		props.RawSetString(k, lua.LString(v))
	}
	tbl.RawSetString("properties", props)
	return tbl
}

// luaPrint sends script output to the debug log
func luaPrint(L *lua.LState) int {
	n := L.GetTop()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	logger.Get().Debug("lua", zap.String("msg", strings.Join(parts, "\t")))
	return 0
}
