package usecase

import "encoding/json"

func marshalEvent(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
