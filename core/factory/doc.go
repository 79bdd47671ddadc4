// Package factory provides a small generic registry used to instantiate
// devices and metrics sinks from configuration. Modules are defined by a type
// string and a map of raw settings; factories decode the settings into typed
// structs and return the concrete implementation.
//
// Example usage:
//
//	reg := factory.NewRegistry[device.Tradeable]()
//	reg.Register("load", func(conf map[string]any) (device.Tradeable, error) {
//	    var c device.LoadConfig
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return device.NewLoad(c)
//	})
//	d, err := reg.Create(factory.ModuleConfig{Type: "load", Conf: map[string]any{"name": "house"}})
package factory
