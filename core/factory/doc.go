// Package factory provides a small generic registry used to instantiate modules
// from configuration. Modules are defined by a type string and a map of raw
// settings. Factories decode the settings into typed structs and return the
// concrete implementation. Metrics sinks and limit policies are built this way.
//
// Example usage:
//
//	reg := factory.NewRegistry[limits.Source]()
//	reg.Register("fixed", func(conf map[string]any) (limits.Source, error) {
//	    var c policy.FixedConfig
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return policy.NewFixed(c)
//	})
//	s, err := reg.Create(factory.ModuleConfig{Type: "fixed", Conf: map[string]any{"limits": ...}})
package factory
