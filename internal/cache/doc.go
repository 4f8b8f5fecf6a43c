/*
Package cache holds loaded view resources keyed by name, kind and scope.

ResourceCache keeps one map per resource kind:

	images   decoded image.Image values (png, jpeg, gif, bmp, webp)
	colors   color.NRGBA parsed from ".color" files
	fonts    *opentype.Font values
	bundles  *types.Bundle handles listing a directory

All maps, the preloaded-name set and the clear generation are owned by a dispatch.Loop. Fetching
and decoding run on other goroutines; concurrent misses for the same key share one fetch through
singleflight, and the result is stored back on the loop only if no clear happened in between.

Entries are never evicted one by one. ClearAll, ClearResources and ClearBundles drop whole maps,
and Optimize clears the resource maps once the configured capacity is reached.

# Lookups

	res, ok := c.Get(ctx, types.NewCacheKey("icon.logo", types.KindImage, types.DefaultScope))

Get folds "not found" and "failed to load" into ok == false. Load returns a types.LoadOutcome that
keeps them apart:

	out := c.Load(ctx, key)
	switch {
	case out.OK():
	case out.Failed():
		log.Printf("load %s: %v", key, out.Err)
	}

# Preloading

Preload loads the configured preload kinds for a list of names with bounded concurrency and an
optional rate limit. A name is preloaded once per scope until the cache is cleared.
PreloadScheduler debounces repeated requests per scope, which suits scroll handlers that fire on
every frame.
*/
package cache
