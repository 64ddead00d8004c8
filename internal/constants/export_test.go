package constants

// WithBaseDir overrides the function returning the user base directory.
func WithBaseDir(f func() (string, error)) option {
	return func(o *options) {
		o.baseDir = f
	}
}
