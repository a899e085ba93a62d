package execution

import (
	"errors"
	"path"

	"github.com/GriffinCanCode/AgentOS/scripthost/internal/domain/modules"
	"github.com/dop251/goja"
)

const (
	wrapperHead = "(function (exports, require, module, __filename, __dirname) {\n"
	wrapperTail = "\n})"
)

// loadModule returns the exports of specifier, evaluating it on first use.
// The module object is cached before evaluation so import cycles see the
// partially initialized exports, as CommonJS does.
func (r *Runtime) loadModule(specifier string) (goja.Value, error) {
	if m, ok := r.modules[specifier]; ok {
		return m.Get("exports"), nil
	}

	src, err := r.loader.LoadModule(r.ctx, specifier)
	if err != nil {
		return nil, err
	}

	module := r.vm.NewObject()
	exports := r.vm.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, err
	}
	_ = module.Set("id", specifier)

	switch src.Kind {
	case modules.KindJSON:
		value, err := r.parseJSON(src.Code)
		if err != nil {
			return nil, err
		}
		_ = module.Set("exports", value)
		r.modules[specifier] = module
		return module.Get("exports"), nil

	case modules.KindScript:
		prg, err := goja.Compile(specifier, wrapperHead+src.Code+wrapperTail, false)
		if err != nil {
			return nil, &modules.Error{Kind: modules.TranspileError, Specifier: specifier, Err: err}
		}
		r.modules[specifier] = module
		r.compiled[specifier] = true

		wrapper, err := r.vm.RunProgram(prg)
		if err != nil {
			delete(r.modules, specifier)
			return nil, err
		}
		fn, ok := goja.AssertFunction(wrapper)
		if !ok {
			delete(r.modules, specifier)
			return nil, errors.New("module wrapper did not evaluate to a function")
		}

		_, err = fn(goja.Undefined(), exports, r.requireFor(specifier), module,
			r.vm.ToValue(specifier), r.vm.ToValue(path.Dir(specifier)))
		if err != nil {
			delete(r.modules, specifier)
			return nil, err
		}
		return module.Get("exports"), nil

	default:
		return nil, &modules.Error{Kind: modules.LoadError, Specifier: specifier, Err: modules.ErrUnknownExtension}
	}
}

// requireFor returns the require function handed to the module referrer
func (r *Runtime) requireFor(referrer string) goja.Value {
	return r.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		resolved, err := r.loader.Resolve(call.Argument(0).String(), referrer)
		if err != nil {
			r.throw(err)
		}
		exports, err := r.loadModule(resolved)
		if err != nil {
			r.throw(err)
		}
		return exports
	})
}

// throw raises err inside the script. Script exceptions and uncatchable
// interrupts propagate unchanged; other errors become GoError objects whose
// cause stays reachable through errors.Is.
func (r *Runtime) throw(err error) {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		panic(ex)
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		panic(interrupted)
	}
	var overflow *goja.StackOverflowError
	if errors.As(err, &overflow) {
		panic(overflow)
	}
	panic(r.vm.NewGoError(err))
}

func (r *Runtime) parseJSON(text string) (goja.Value, error) {
	parse, ok := goja.AssertFunction(r.vm.Get("JSON").ToObject(r.vm).Get("parse"))
	if !ok {
		return nil, errors.New("JSON.parse unavailable")
	}
	return parse(goja.Undefined(), r.vm.ToValue(text))
}

// stringify returns the JSON text of v, or "" when v has no JSON form
func (r *Runtime) stringify(v goja.Value) (string, error) {
	stringify, ok := goja.AssertFunction(r.vm.Get("JSON").ToObject(r.vm).Get("stringify"))
	if !ok {
		return "", errors.New("JSON.stringify unavailable")
	}
	out, err := stringify(goja.Undefined(), v)
	if err != nil {
		return "", err
	}
	if out == nil || goja.IsUndefined(out) {
		return "", nil
	}
	return out.String(), nil
}
