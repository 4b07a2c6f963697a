package service

import "errors"

var (
	// ErrAlreadyInvited 被邀请身份已被占用（真实邀请或占位记录）
	ErrAlreadyInvited = errors.New("referral link already used for this user")
	// ErrSelfReferral 不允许自己邀请自己
	ErrSelfReferral = errors.New("cannot refer yourself")
	// ErrInvalidUserID 用户标识为空或非法
	ErrInvalidUserID = errors.New("invalid user id")
	// ErrTooManyConflicts 乐观并发重试次数耗尽
	ErrTooManyConflicts = errors.New("too many concurrent modifications, giving up")
)
