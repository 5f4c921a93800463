//go:build !race

package local

func defaultHashCost() int {
	return DefaultHashCost
}
