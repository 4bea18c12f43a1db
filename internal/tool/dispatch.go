package tool

import (
	"fmt"
	"log"
)

// Dispatch executes a validated call. The sequence is fixed: existence and
// callability checks, cache probe for idempotent tools, handler invocation
// with panic recovery, then cache maintenance (store reads, invalidate on
// successful writes).
//
// Args must have passed ValidateArgs; Dispatch does not re-validate.
func (r *Registry) Dispatch(hc HandlerContext, cache *Cache, name string, args map[string]any) ToolResult {
	e, ok := r.entries[name]
	if !ok {
		return Fail(ErrNoTool, "unknown tool %q", name)
	}
	spec := e.spec
	if !spec.CallableByModel {
		// Indistinguishable from an unknown tool on purpose: the model has
		// no business learning which internal tools exist.
		return Fail(ErrNoTool, "unknown tool %q", name)
	}

	var key string
	if spec.Idempotent && cache != nil {
		key = Key(name, args)
		if cached, hit := cache.Get(key); hit {
			cached.FromCache = true
			return cached
		}
	}

	result := invoke(spec, hc, args)

	if result.OK && cache != nil {
		switch spec.SideEffects {
		case SideEffectWrite, SideEffectExec:
			touched := result.TouchedPaths
			if len(touched) == 0 {
				touched = argPaths(args)
			}
			cache.InvalidatePaths(touched)
		default:
			if spec.Idempotent {
				cache.Put(key, args, result)
			}
		}
	}
	return result
}

// invoke runs the handler, converting panics into sanitized E_TOOL results
// so one broken tool cannot take down the loop.
func invoke(spec Spec, hc HandlerContext, args map[string]any) (result ToolResult) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[Dispatch] PANIC in tool %s: %v", spec.Name, rec)
			result = Fail(ErrTool, "tool %s failed internally", spec.Name)
		}
	}()
	result = spec.Handler(hc, args)
	if !result.OK && result.Err == nil {
		result.Err = &ToolError{Code: ErrTool, Message: fmt.Sprintf("tool %s reported failure without detail", spec.Name)}
	}
	return result
}
