package validator

import (
	"reflect"
	"strings"
)

// jsonTagName reports fields by their JSON name.
func jsonTagName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return fld.Name
	}
	return name
}
