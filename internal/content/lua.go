package content

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/pilld/internal/alarm"
)

// LuaFormatter renders notification text with a user script. The script may
// define any of these global functions, each returning title and body:
//
//	function alarm(a) return a.name, a.time .. " - take " .. a.leds_label end
//	function snooze(p) ... end
//	function test() ... end
//
// Functions that are missing, fail, or return an empty title fall back to the
// default formatter. A preloaded "log" module exposes log.info/warn/error.
type LuaFormatter struct {
	mu       sync.Mutex
	L        *lua.LState
	fallback DefaultFormatter
}

// NewLuaFormatter loads the script from path.
func NewLuaFormatter(path string) (*LuaFormatter, error) {
	L := lua.NewState()
	L.PreloadModule("log", logLoader)

	log.Info().Str("path", path).Msg("Loading notification format script")

	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, fmt.Errorf("failed to execute format script: %w", err)
	}
	return &LuaFormatter{L: L}, nil
}

// NewLuaFormatterString loads the script from source.
func NewLuaFormatterString(source string) (*LuaFormatter, error) {
	L := lua.NewState()
	L.PreloadModule("log", logLoader)

	if err := L.DoString(source); err != nil {
		L.Close()
		return nil, fmt.Errorf("failed to execute format script: %w", err)
	}
	return &LuaFormatter{L: L}, nil
}

// Close releases the Lua state.
func (f *LuaFormatter) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.L.Close()
}

func (f *LuaFormatter) Alarm(r alarm.Record) Message {
	msg, ok := f.call("alarm", func(L *lua.LState) lua.LValue { return recordTable(L, r) })
	if !ok {
		return f.fallback.Alarm(r)
	}
	return msg
}

func (f *LuaFormatter) Snooze(p alarm.Payload) Message {
	msg, ok := f.call("snooze", func(L *lua.LState) lua.LValue { return payloadTable(L, p) })
	if !ok {
		return f.fallback.Snooze(p)
	}
	return msg
}

func (f *LuaFormatter) Test() Message {
	msg, ok := f.call("test", nil)
	if !ok {
		return f.fallback.Test()
	}
	return msg
}

// call invokes a global script function. arg builds the single argument
// inside the lock, since tables belong to the state.
func (f *LuaFormatter) call(name string, arg func(L *lua.LState) lua.LValue) (Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fn, ok := f.L.GetGlobal(name).(*lua.LFunction)
	if !ok {
		return Message{}, false
	}

	var args []lua.LValue
	if arg != nil {
		args = append(args, arg(f.L))
	}

	if err := f.L.CallByParam(lua.P{Fn: fn, NRet: 2, Protect: true}, args...); err != nil {
		log.Warn().Err(err).Str("function", name).Msg("Format script failed, using default text")
		return Message{}, false
	}

	body := f.L.Get(-1)
	title := f.L.Get(-2)
	f.L.Pop(2)

	msg := Message{Title: luaString(title), Body: luaString(body)}
	if msg.Title == "" {
		log.Warn().Str("function", name).Msg("Format script returned empty title, using default text")
		return Message{}, false
	}
	return msg, true
}

func luaString(v lua.LValue) string {
	if v == lua.LNil {
		return ""
	}
	return lua.LVAsString(v)
}

func intArray(L *lua.LState, values []int) *lua.LTable {
	tbl := L.NewTable()
	for i, v := range values {
		tbl.RawSetInt(i+1, lua.LNumber(v))
	}
	return tbl
}

func recordTable(L *lua.LState, r alarm.Record) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("id", lua.LString(r.ID))
	tbl.RawSetString("name", lua.LString(r.DisplayName()))
	tbl.RawSetString("time", lua.LString(r.Time))
	tbl.RawSetString("days", intArray(L, r.RepeatDays))
	tbl.RawSetString("leds", intArray(L, r.LEDs))
	tbl.RawSetString("enabled", lua.LBool(r.Enabled))
	tbl.RawSetString("leds_label", lua.LString(r.LEDLabel()))
	tbl.RawSetString("days_label", lua.LString(r.DaysLabel()))
	return tbl
}

func payloadTable(L *lua.LState, p alarm.Payload) *lua.LTable {
	tbl := L.NewTable()
	tbl.RawSetString("id", lua.LString(p.AlarmID))
	tbl.RawSetString("name", lua.LString(p.DisplayName()))
	tbl.RawSetString("leds", intArray(L, p.LEDs))
	tbl.RawSetString("leds_label", lua.LString(alarm.LEDLabel(p.LEDs)))
	return tbl
}

func logLoader(L *lua.LState) int {
	mod := L.NewTable()
	L.SetField(mod, "info", L.NewFunction(func(L *lua.LState) int {
		log.Info().Str("source", "lua").Msg(L.CheckString(1))
		return 0
	}))
	L.SetField(mod, "warn", L.NewFunction(func(L *lua.LState) int {
		log.Warn().Str("source", "lua").Msg(L.CheckString(1))
		return 0
	}))
	L.SetField(mod, "error", L.NewFunction(func(L *lua.LState) int {
		log.Error().Str("source", "lua").Msg(L.CheckString(1))
		return 0
	}))
	L.Push(mod)
	return 1
}
