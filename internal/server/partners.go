package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"submit/internal/domain"
)

func registerPartners(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-invite",
		Method:        http.MethodPost,
		Path:          "/partner/invite",
		Summary:       "Create supporter invite",
		Description:   "Replaces any open invite. The token is shared with the future supporter out of band.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct{}) (*bodyOutput[domain.Supporter], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := h.e.CreateInvite(ctx, userID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return respond(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-invite",
		Method:      http.MethodPost,
		Path:        "/partner/accept",
		Summary:     "Accept supporter invite",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body AcceptInviteRequest
	}) (*bodyOutput[domain.Supporter], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := h.e.AcceptInvite(ctx, userID, input.Body.Token)
		if err != nil {
			return nil, h.handleError(err)
		}
		return respond(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-supporters",
		Method:      http.MethodGet,
		Path:        "/partner/supporters",
		Summary:     "List my supporters and open invite",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct{}) (*bodyOutput[SupporterListResponse], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := h.e.ListSupporters(ctx, userID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return respond(SupporterListResponse{Items: nonNil(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-supporting",
		Method:      http.MethodGet,
		Path:        "/partner/supporting",
		Summary:     "List users I support",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct{}) (*bodyOutput[SupporterListResponse], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := h.e.ListSupporting(ctx, userID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return respond(SupporterListResponse{Items: nonNil(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-supporter",
		Method:        http.MethodDelete,
		Path:          "/partner/supporters/{id}",
		Summary:       "Remove supporter or cancel invite",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := h.e.RemoveSupporter(ctx, userID, input.ID); err != nil {
			return nil, h.handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cheers",
		Method:      http.MethodGet,
		Path:        "/partner/cheers",
		Summary:     "List cheers I received",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*bodyOutput[CheerListResponse], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := h.e.ListCheers(ctx, userID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, h.handleError(err)
		}
		return respond(CheerListResponse{Items: nonNil(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "send-cheer",
		Method:        http.MethodPost,
		Path:          "/partner/cheers",
		Summary:       "Cheer a user I support",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body SendCheerRequest
	}) (*bodyOutput[domain.Cheer], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := h.e.SendCheer(ctx, userID, input.Body.UserID, input.Body.Message)
		if err != nil {
			return nil, h.handleError(err)
		}
		return respond(c), nil
	})
}
