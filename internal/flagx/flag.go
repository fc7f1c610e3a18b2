// Package flagx lets several independent flag sets share os.Args: each set
// sees only the flags it declares.
package flagx

import (
	"flag"
	"os"
	"strings"
)

// FilterArgs keeps only the allowedFlags (and their values) from args.
// Both "-f value" and "-f=value" forms are recognized; a value is taken from
// the next argument only when it does not start with '-'.
func FilterArgs(args []string, allowedFlags []string) []string {
	return FilterArgsWithBools(args, allowedFlags, nil)
}

// FilterArgsWithBools is FilterArgs for flag sets that also declare boolean
// flags. A bool flag never consumes the following argument, so "-e -a x"
// and "-e=false" both work.
func FilterArgsWithBools(args []string, valued []string, bools []string) []string {
	kind := make(map[string]bool, len(valued)+len(bools))
	for _, f := range valued {
		kind[f] = true
	}
	for _, f := range bools {
		kind[f] = false
	}

	out := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			continue
		}

		if name, _, ok := strings.Cut(arg, "="); ok {
			if _, known := kind[name]; known {
				out = append(out, arg)
			}
			continue
		}

		takesValue, known := kind[arg]
		if !known {
			continue
		}
		out = append(out, arg)

		if takesValue && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			out = append(out, args[i+1])
			i++
		}
	}

	return out
}

// ConfigPath returns the JSON config file named by -c or -config in
// os.Args, or "" when neither is given.
func ConfigPath() string {
	var path string

	fs := flag.NewFlagSet("json", flag.ContinueOnError)
	fs.StringVar(&path, "config", "", "Path to config file")
	fs.StringVar(&path, "c", "", "Path to config file (short)")
	_ = fs.Parse(FilterArgs(os.Args[1:], []string{"-c", "-config"}))

	return path
}
