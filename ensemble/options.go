package ensemble

// Option configures a RandomForestRegressor
type Option func(*RandomForestRegressor)

// WithNEstimators sets the number of trees in the forest.
func WithNEstimators(n int) Option { return func(f *RandomForestRegressor) { f.NEstimators = n } }

// WithMaxDepth sets the maximum depth of each tree. 0 means no limit.
func WithMaxDepth(d int) Option { return func(f *RandomForestRegressor) { f.MaxDepth = d } }

// WithMinSamplesSplit sets the minimum number of samples required to split a node.
func WithMinSamplesSplit(n int) Option {
	return func(f *RandomForestRegressor) { f.MinSamplesSplit = n }
}

// WithMinSamplesLeaf sets the minimum number of samples required in each leaf.
func WithMinSamplesLeaf(n int) Option {
	return func(f *RandomForestRegressor) { f.MinSamplesLeaf = n }
}

// WithMaxFeatures sets how many features each split considers. 0 means all.
func WithMaxFeatures(k int) Option { return func(f *RandomForestRegressor) { f.MaxFeatures = k } }

// WithBootstrap toggles bootstrap sampling of the training rows.
func WithBootstrap(b bool) Option { return func(f *RandomForestRegressor) { f.Bootstrap = b } }

// WithRandomState sets the base seed. Tree i uses RandomState+i.
func WithRandomState(seed int64) Option {
	return func(f *RandomForestRegressor) { f.RandomState = seed }
}

// WithNJobs bounds how many trees are fitted concurrently. 0 means one per CPU.
func WithNJobs(n int) Option { return func(f *RandomForestRegressor) { f.NJobs = n } }
