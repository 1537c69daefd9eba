package conversation

// Page describes one window over a list of total items.
type Page struct {
	Index   int
	Pages   int
	Start   int
	End     int
	HasPrev bool
	HasNext bool
}

// Paginate clamps page into range and returns the slice bounds for it. An
// empty list still has a single (empty) page.
func Paginate(total, page, size int) Page {
	if size <= 0 {
		size = 1
	}
	if total < 0 {
		total = 0
	}

	pages := (total + size - 1) / size
	if pages == 0 {
		pages = 1
	}
	if page < 0 {
		page = 0
	}
	if page >= pages {
		page = pages - 1
	}

	start := page * size
	end := start + size
	if end > total {
		end = total
	}

	return Page{
		Index:   page,
		Pages:   pages,
		Start:   start,
		End:     end,
		HasPrev: page > 0,
		HasNext: page < pages-1,
	}
}
