package httpapi

import (
	"fmt"
	"io"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

// maxBodyBytes caps a submission body.
const maxBodyBytes = 4 << 20

// sonicSerializer replaces echo's encoding/json serializer.
type sonicSerializer struct{}

func (sonicSerializer) Serialize(c echo.Context, i any, indent string) error {
	enc := sonic.ConfigStd.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (sonicSerializer) Deserialize(c echo.Context, i any) error {
	return decodeBody(c.Request().Body, i)
}

// decodeBody decodes one JSON value, rejecting unknown struct fields and
// bodies over maxBodyBytes.
func decodeBody(body io.Reader, target any) error {
	if body == nil {
		return fmt.Errorf("request body is required")
	}
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}
