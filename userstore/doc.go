// Package userstore provides ready-made trueface.UserStore implementations:
// a MongoDB-backed store for production and an in-memory store for tests and
// demos.
//
// Both stores keep the engine's contract: backend failures match
// trueface.ErrStoreUnavailable, missing users match trueface.ErrUserNotFound,
// and username collisions match trueface.ErrUserExists.
package userstore
