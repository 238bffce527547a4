package httpapi

import (
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/freeeve/chessgraph/personal/internal/model"
)

var validate = validator.New()

// IndexRequest selects one player index.
type IndexRequest struct {
	Player  string `validate:"required,max=255"`
	Color   string `validate:"omitempty,oneof=white black w b"`
	Variant string `validate:"max=32"`
}

// PersonalRequest selects a position of one player index.
type PersonalRequest struct {
	IndexRequest
	FEN  string   `validate:"max=128"`
	Play []string `validate:"max=600,dive,min=2,max=8"`
}

// target is a validated and normalized index selector.
type target struct {
	player  model.PlayerID
	color   model.Color
	variant model.Variant
}

func parseIndexRequest(q url.Values) IndexRequest {
	return IndexRequest{
		Player:  strings.TrimSpace(q.Get("player")),
		Color:   strings.ToLower(strings.TrimSpace(q.Get("color"))),
		Variant: strings.TrimSpace(q.Get("variant")),
	}
}

func parsePersonalRequest(q url.Values) PersonalRequest {
	req := PersonalRequest{
		IndexRequest: parseIndexRequest(q),
		FEN:          strings.TrimSpace(q.Get("fen")),
	}
	for _, p := range q["play"] {
		for _, m := range strings.Split(p, ",") {
			if m = strings.TrimSpace(m); m != "" {
				req.Play = append(req.Play, m)
			}
		}
	}
	return req
}

// resolve validates the request and converts it to model values.
func (r *IndexRequest) resolve() (target, error) {
	if err := validateStruct(r); err != nil {
		return target{}, err
	}
	var t target
	var err error
	if t.player, err = model.ParsePlayerID(r.Player); err != nil {
		return target{}, err
	}
	if r.Color != "" {
		if t.color, err = model.ParseColor(r.Color); err != nil {
			return target{}, err
		}
	}
	if t.variant, err = model.ParseVariant(r.Variant); err != nil {
		return target{}, err
	}
	return t, nil
}

func validateStruct(v any) error {
	errs := validate.Struct(v)
	if errs == nil {
		return nil
	}
	verrs, ok := errs.(validator.ValidationErrors)
	if !ok {
		return errs
	}
	var details strings.Builder
	for _, err := range verrs {
		if details.Len() > 0 {
			details.WriteString("; ")
		}
		switch err.Tag() {
		case "required":
			details.WriteString(fmt.Sprintf("%s is required", err.Field()))
		case "oneof":
			details.WriteString(fmt.Sprintf("%s must be one of [%s]", err.Field(), err.Param()))
		case "min":
			if err.Type().Kind() == reflect.String {
				details.WriteString(fmt.Sprintf("%s must be at least %s characters", err.Field(), err.Param()))
			} else {
				details.WriteString(fmt.Sprintf("%s must have at least %s items", err.Field(), err.Param()))
			}
		case "max":
			if err.Type().Kind() == reflect.String {
				details.WriteString(fmt.Sprintf("%s must be at most %s characters", err.Field(), err.Param()))
			} else {
				details.WriteString(fmt.Sprintf("%s must have at most %s items", err.Field(), err.Param()))
			}
		default:
			details.WriteString(fmt.Sprintf("%s failed %s validation", err.Field(), err.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", errValidation, details.String())
}
