// Package shadowbox runs Go tests against a rewritten copy of a mobile
// platform API surface, with platform types replaced by substitute
// ("shadow") implementations.
//
// # Quick Start
//
// Register substitute types, build a harness over the platform artifacts
// and run a test case once per configured platform version:
//
//	catalog, err := shadowbox.NewCatalog(
//	    shadowbox.NewShadowType("FakeClock", func(*shadowbox.Instance) any { return &fakeClock{} }).
//	        Method("now()", func(c *shadowbox.Call) (any, error) { return int64(42), nil }),
//	)
//
//	resolver, err := shadowbox.LoadResolver("shadowbox-resolver.yaml")
//
//	h, err := shadowbox.New(shadowbox.Config{
//	    Provider: shadowbox.NewLocalArtifacts("platform"),
//	    Catalog:  catalog,
//	    Resolver: resolver,
//	})
//	defer h.Close()
//
//	shadowbox.Run(t, h, shadowbox.TestCase{
//	    Class: "ClockTest",
//	    Name:  "ticks",
//	    Body: func(env *shadowbox.Env) error {
//	        clock, err := platform.NewClock(env)
//	        if err != nil {
//	            return err
//	        }
//	        _, err = clock.Now()
//	        return err
//	    },
//	})
//
// The platform package in the example is produced by "shadowbox generate".
package shadowbox
