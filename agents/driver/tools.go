/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"al.essio.dev/pkg/shellescape"

	"chainguard.dev/vibepr/agents/agenttrace"
	"chainguard.dev/vibepr/agents/toolcall"
	"chainguard.dev/vibepr/agents/toolcall/params"
	"chainguard.dev/vibepr/vm"
)

// Tool names understood by the driver.
const (
	ToolBash     = "bash"
	ToolEditor   = "str_replace_editor"
	ToolComputer = "computer"
	ToolWait     = "wait"
	ToolFinish   = "finish"
)

// screenshotKey is the observation key a tool uses to hand a base64 PNG to
// the driver. The driver removes it before the model sees the observation.
const screenshotKey = "screenshot"

const maxWait = 60 * time.Second

// outcome is set by the finish tool.
type outcome struct {
	done    bool
	success bool
	errMsg  string
	notes   string
}

type toolSet map[string]toolcall.Tool[outcome]

func (d *Driver) tools(h vm.Handle, task Task) toolSet {
	return toolSet{
		ToolBash:     d.bashTool(h),
		ToolEditor:   d.editorTool(h),
		ToolComputer: d.computerTool(h),
		ToolWait:     d.waitTool(),
		ToolFinish:   finishTool(task),
	}
}

func (d *Driver) bashTool(h vm.Handle) toolcall.Tool[outcome] {
	return toolcall.Tool[outcome]{
		Def: toolcall.Definition{
			Name:        ToolBash,
			Description: "Run a bash command and return its stdout, stderr and exit code. Start long-running servers in the background with nohup and redirect their output to a file.",
			Parameters: []toolcall.Parameter{
				{Name: "command", Type: "string", Description: "The command to run", Required: true},
			},
		},
		Handler: func(ctx context.Context, call toolcall.ToolCall, trace *agenttrace.Trace[outcome], _ *outcome) map[string]any {
			cmd, errResp := toolcall.Param[string](call, trace, "command")
			if errResp != nil {
				return errResp
			}
			res, err := h.Bash(ctx, cmd)
			if err != nil {
				return params.ErrorWithContext(err, map[string]any{"command": cmd})
			}
			return d.commandObservation(res)
		},
	}
}

func (d *Driver) commandObservation(res vm.CommandResult) map[string]any {
	return map[string]any{
		"stdout":    truncateMiddle(res.Stdout, d.maxOutput),
		"stderr":    truncateMiddle(res.Stderr, d.maxOutput),
		"exit_code": res.ExitCode,
	}
}

func (d *Driver) editorTool(h vm.Handle) toolcall.Tool[outcome] {
	return toolcall.Tool[outcome]{
		Def: toolcall.Definition{
			Name:        ToolEditor,
			Description: "View, create and edit files. view prints a file with line numbers; create writes file_text; str_replace replaces the single occurrence of old_str with new_str; insert adds new_str after line insert_line.",
			Parameters: []toolcall.Parameter{
				{Name: "command", Type: "string", Description: "One of view, create, str_replace, insert", Required: true},
				{Name: "path", Type: "string", Description: "File path; ~/ is the home directory", Required: true},
				{Name: "file_text", Type: "string", Description: "Content for create"},
				{Name: "old_str", Type: "string", Description: "Text to replace for str_replace"},
				{Name: "new_str", Type: "string", Description: "Replacement or inserted text"},
				{Name: "insert_line", Type: "integer", Description: "Line after which to insert; 0 inserts at the top"},
			},
			Sensitive: true,
		},
		Handler: func(ctx context.Context, call toolcall.ToolCall, trace *agenttrace.Trace[outcome], _ *outcome) map[string]any {
			command, errResp := toolcall.Param[string](call, trace, "command")
			if errResp != nil {
				return errResp
			}
			path, errResp := toolcall.Param[string](call, trace, "path")
			if errResp != nil {
				return errResp
			}

			switch command {
			case "view":
				res, err := h.Bash(ctx, "cat -n "+vm.QuotePath(path))
				if err != nil {
					return params.Error("%v", err)
				}
				return d.commandObservation(res)

			case "create":
				text, errResp := toolcall.Param[string](call, trace, "file_text")
				if errResp != nil {
					return errResp
				}
				if err := h.WriteFile(ctx, path, text); err != nil {
					return params.Error("%v", err)
				}
				return map[string]any{"result": "created " + path}

			case "str_replace":
				oldStr, errResp := toolcall.Param[string](call, trace, "old_str")
				if errResp != nil {
					return errResp
				}
				newStr, errResp := toolcall.OptionalParam(call, "new_str", "")
				if errResp != nil {
					return errResp
				}
				content, errResp := readFile(ctx, h, path)
				if errResp != nil {
					return errResp
				}
				switch n := strings.Count(content, oldStr); {
				case oldStr == "" || n == 0:
					return params.Error("old_str not found in %s", path)
				case n > 1:
					return params.Error("old_str occurs %d times in %s; include more context", n, path)
				}
				if err := h.WriteFile(ctx, path, strings.Replace(content, oldStr, newStr, 1)); err != nil {
					return params.Error("%v", err)
				}
				return map[string]any{"result": "edited " + path}

			case "insert":
				line, errResp := toolcall.Param[int](call, trace, "insert_line")
				if errResp != nil {
					return errResp
				}
				newStr, errResp := toolcall.Param[string](call, trace, "new_str")
				if errResp != nil {
					return errResp
				}
				content, errResp := readFile(ctx, h, path)
				if errResp != nil {
					return errResp
				}
				updated, err := insertAfter(content, line, newStr)
				if err != nil {
					return params.Error("%v", err)
				}
				if err := h.WriteFile(ctx, path, updated); err != nil {
					return params.Error("%v", err)
				}
				return map[string]any{"result": fmt.Sprintf("inserted after line %d of %s", line, path)}

			default:
				return params.Error("unknown command %q; use view, create, str_replace or insert", command)
			}
		},
	}
}

func readFile(ctx context.Context, h vm.Handle, path string) (string, map[string]any) {
	res, err := h.Bash(ctx, "cat "+vm.QuotePath(path))
	if err != nil {
		return "", params.Error("%v", err)
	}
	if res.ExitCode != 0 {
		return "", params.Error("reading %s: %s", path, strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, nil
}

func insertAfter(content string, line int, text string) (string, error) {
	lines := strings.SplitAfter(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if line < 0 || line > len(lines) {
		return "", fmt.Errorf("insert_line %d is outside the file (0-%d)", line, len(lines))
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	if line > 0 && !strings.HasSuffix(lines[line-1], "\n") {
		lines[line-1] += "\n"
	}
	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:line]...)
	out = append(out, text)
	out = append(out, lines[line:]...)
	return strings.Join(out, ""), nil
}

func (d *Driver) computerTool(h vm.Handle) toolcall.Tool[outcome] {
	return toolcall.Tool[outcome]{
		Def: toolcall.Definition{
			Name:        ToolComputer,
			Description: "Operate the desktop mouse and keyboard. screenshot captures the screen and reports the focused window title.",
			Parameters: []toolcall.Parameter{
				{Name: "action", Type: "string", Description: "One of screenshot, mouse_move, left_click, double_click, right_click, type, key, scroll_up, scroll_down", Required: true},
				{Name: "coordinate", Type: "array", Description: "[x, y] pixel position on the 1920x1080 screen"},
				{Name: "text", Type: "string", Description: "Text for type, or a key chord such as ctrl+l or Return for key"},
			},
		},
		Handler: func(ctx context.Context, call toolcall.ToolCall, trace *agenttrace.Trace[outcome], _ *outcome) map[string]any {
			act, errResp := toolcall.Param[string](call, trace, "action")
			if errResp != nil {
				return errResp
			}
			coord, errResp := toolcall.OptionalParam[[]int](call, "coordinate", nil)
			if errResp != nil {
				return errResp
			}
			text, errResp := toolcall.OptionalParam(call, "text", "")
			if errResp != nil {
				return errResp
			}

			cmd, err := xdotool(act, coord, text)
			if err != nil {
				return params.Error("%v", err)
			}
			obs := map[string]any{}
			if cmd != "" {
				res, err := h.Bash(ctx, cmd)
				if err != nil {
					return params.Error("%v", err)
				}
				if res.ExitCode != 0 {
					return params.Error("%s failed: %s", act, strings.TrimSpace(res.Stderr))
				}
			}
			if act == "screenshot" {
				res, err := h.Bash(ctx, "import -window root png:- | base64 -w0")
				if err != nil {
					return params.Error("%v", err)
				}
				if res.ExitCode != 0 {
					return params.Error("screenshot failed: %s", strings.TrimSpace(res.Stderr))
				}
				obs[screenshotKey] = strings.TrimSpace(res.Stdout)
			}
			if res, err := h.Bash(ctx, "xdotool getactivewindow getwindowname"); err == nil && res.ExitCode == 0 {
				obs["active_window"] = strings.TrimSpace(res.Stdout)
			}
			obs["result"] = act + " done"
			return obs
		},
	}
}

// xdotool returns the command implementing a computer action; screenshot
// needs none.
func xdotool(act string, coord []int, text string) (string, error) {
	move := ""
	if len(coord) > 0 {
		if len(coord) != 2 || coord[0] < 0 || coord[1] < 0 {
			return "", fmt.Errorf("coordinate must be [x, y] with non-negative values, got %v", coord)
		}
		move = fmt.Sprintf("mousemove %d %d ", coord[0], coord[1])
	}
	switch act {
	case "screenshot":
		return "", nil
	case "mouse_move":
		if move == "" {
			return "", fmt.Errorf("mouse_move requires coordinate")
		}
		return "xdotool " + strings.TrimSpace(move), nil
	case "left_click":
		return "xdotool " + move + "click 1", nil
	case "double_click":
		return "xdotool " + move + "click --repeat 2 1", nil
	case "right_click":
		return "xdotool " + move + "click 3", nil
	case "scroll_up":
		return "xdotool " + move + "click --repeat 5 4", nil
	case "scroll_down":
		return "xdotool " + move + "click --repeat 5 5", nil
	case "type":
		if text == "" {
			return "", fmt.Errorf("type requires text")
		}
		return "xdotool type --delay 20 -- " + shellescape.Quote(text), nil
	case "key":
		if text == "" {
			return "", fmt.Errorf("key requires text")
		}
		return "xdotool key -- " + shellescape.Quote(text), nil
	default:
		return "", fmt.Errorf("unknown computer action %q", act)
	}
}

func (d *Driver) waitTool() toolcall.Tool[outcome] {
	return toolcall.Tool[outcome]{
		Def: toolcall.Definition{
			Name:        ToolWait,
			Description: "Pause so a page can load or a server can start.",
			Parameters: []toolcall.Parameter{
				{Name: "seconds", Type: "number", Description: "How long to wait, at most 60"},
			},
		},
		Handler: func(ctx context.Context, call toolcall.ToolCall, _ *agenttrace.Trace[outcome], _ *outcome) map[string]any {
			secs, errResp := toolcall.OptionalParam(call, "seconds", 2.0)
			if errResp != nil {
				return errResp
			}
			wait := min(time.Duration(secs*float64(time.Second)), maxWait)
			if err := d.sleep(ctx, wait); err != nil {
				return params.Error("%v", err)
			}
			return map[string]any{"result": "waited " + strconv.FormatFloat(wait.Seconds(), 'f', -1, 64) + "s"}
		},
	}
}

func finishTool(task Task) toolcall.Tool[outcome] {
	return toolcall.Tool[outcome]{
		Def: toolcall.Definition{
			Name:        ToolFinish,
			Description: "Report the outcome of the task. The input is the result object described below.",
		},
		Handler: func(_ context.Context, call toolcall.ToolCall, trace *agenttrace.Trace[outcome], out *outcome) map[string]any {
			payload, err := json.Marshal(call.Args)
			if err != nil {
				return params.Error("%v", err)
			}
			success, errMsg, notes, err := task.decode(string(payload))
			if err != nil {
				trace.BadToolCall(call.ID, call.Name, call.Args, err)
				return params.Error("%v", err)
			}
			*out = outcome{done: true, success: success, errMsg: errMsg, notes: notes}
			return map[string]any{"result": "recorded"}
		},
	}
}
