package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

const cborContentType = "application/cbor"

// cborMode keeps full timestamp precision; the library default is Unix seconds.
var cborMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// writeResponse encodes v as CBOR when the client asks for it and as JSON
// otherwise.
func writeResponse(w http.ResponseWriter, r *http.Request, status int, v any) {
	if strings.Contains(r.Header.Get("Accept"), cborContentType) {
		data, err := cborMode.Marshal(v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", cborContentType)
		w.WriteHeader(status)
		_, _ = w.Write(data)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Detail string `json:"detail" cbor:"detail"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, detail string) {
	writeResponse(w, r, status, errorBody{Detail: detail})
}
