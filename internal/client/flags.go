package client

import "github.com/spf13/pflag"

// AddFlags adds the flags relevant to configuring the remote-cache API client
// to the given flag set and binds them to opts.
func AddFlags(opts *Opts, flags *pflag.FlagSet) {
	flags.BoolVar(&opts.UsePreflight, "preflight", false, "When enabled, turbo will precede HTTP requests with an OPTIONS request for authorization")
	flags.Uint64Var(&opts.Timeout, "remote-cache-timeout", ClientTimeout, "Set the timeout for remote cache operations in seconds.")
}
