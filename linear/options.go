package linear

// Option is a function that configures LinearRegression
type Option func(*LinearRegression)

// WithFitIntercept sets whether to calculate the intercept
func WithFitIntercept(fit bool) Option {
	return func(lr *LinearRegression) {
		lr.FitIntercept = fit
	}
}

// WithStandardize sets whether features are standardized before solving
func WithStandardize(standardize bool) Option {
	return func(lr *LinearRegression) {
		lr.Standardize = standardize
	}
}
