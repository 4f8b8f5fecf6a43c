/*
Package coordinator ties the resource cache, the preload scheduler, the paginated views and the
memory and performance monitors together behind one entry point.

	cfg, err := coordinator.LoadConfig("viewkit.yaml")
	if err != nil {
		return err
	}
	c, err := coordinator.New(ctx, coordinator.Options{Config: cfg})
	if err != nil {
		return err
	}
	defer c.Stop(context.Background())

	if err := c.Start(ctx); err != nil {
		return err
	}

	logo, ok := c.Resource(ctx, "icon.logo", types.KindImage, types.DefaultScope)
	if !ok {
		// draw a placeholder
	}

	feed, err := coordinator.NewList(c, "feed", pagination.NewSliceSource(posts...))

Views report visibility with OnItemAppeared and read their loaded range with VisibleWindow.

When the memory monitor crosses into critical pressure it calls ClearCaches, which clears every
cache and returns freed memory to the OS. The caching, preloading and monitoring flags can be
flipped at any time; monitoring only controls whether the monitors sample if it is set at Start.

With monitoring.debug enabled, Start also serves the debug HTTP API (see package api), and with
monitoring.metrics enabled and a port set, a Prometheus endpoint.
*/
package coordinator
