package core

import "context"

// Reply receives the outcome of an action submitted with SubmitAndReply.
type Reply[T any] func(ctx context.Context, value T, err error)

// SubmitAndReply submits action to s and, once it resolves, posts reply with its
// outcome to replyTo on the normal lane. A nil replyTo means s.
//
// Execution guarantee:
// - The action has always resolved before the reply starts
// - The reply sees the action's final value and error, including cancellation
// - If replyTo is shut down by then, the reply is rejected and never runs
//
// The reply is posted from a completion callback on s's drain loop. Posting
// only queues it, so a slow reply never holds up s.
//
// The returned Future is the action's, not the reply's.
func SubmitAndReply[T any](s *Scheduler, lane Lane, action Action[T], reply Reply[T], replyTo *Scheduler) *Future[T] {
	f := Submit(s, lane, action)
	if reply == nil {
		return f
	}
	if replyTo == nil {
		replyTo = s
	}
	f.OnComplete(func(v T, err error) {
		Post(replyTo, LaneNormal, func(ctx context.Context) error {
			reply(ctx, v, err)
			return nil
		})
	})
	return f
}
