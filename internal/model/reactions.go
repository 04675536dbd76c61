package model

import "slices"

// Reactions emoji -> 反应者 ID 列表（集合语义，保留插入顺序用于展示）
//
// 不变量：任何 emoji 都不会映射到空集合，空集合直接删除键。
type Reactions map[string][]string

// Has reports whether userID reacted with emoji.
func (r Reactions) Has(emoji, userID string) bool {
	return slices.Contains(r[emoji], userID)
}

// Add returns a copy with userID added under emoji.
func (r Reactions) Add(emoji, userID string) Reactions {
	if emoji == "" || userID == "" || r.Has(emoji, userID) {
		return r.Clone()
	}
	out := r.Clone()
	if out == nil {
		out = make(Reactions)
	}
	out[emoji] = append(out[emoji], userID)
	return out
}

// Remove returns a copy with userID removed from emoji, dropping the key if it empties.
func (r Reactions) Remove(emoji, userID string) Reactions {
	out := r.Clone()
	users, ok := out[emoji]
	if !ok {
		return out
	}
	users = slices.DeleteFunc(users, func(u string) bool { return u == userID })
	if len(users) == 0 {
		delete(out, emoji)
	} else {
		out[emoji] = users
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Toggle flips userID's membership and reports whether it is now present.
func (r Reactions) Toggle(emoji, userID string) (Reactions, bool) {
	if r.Has(emoji, userID) {
		return r.Remove(emoji, userID), false
	}
	return r.Add(emoji, userID), true
}

func (r Reactions) Clone() Reactions {
	if r == nil {
		return nil
	}
	out := make(Reactions, len(r))
	for emoji, users := range r {
		if len(users) == 0 {
			continue
		}
		out[emoji] = slices.Clone(users)
	}
	return out
}
