//go:build !linux && !nogpio

package gpio

import "errors"

func init() {
	register("cdev", func(Options) (Driver, error) {
		return nil, errors.New("cdev gpio driver requires linux")
	})
}
